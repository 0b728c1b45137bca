package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crmsync/backend/internal/application/syncsvc"
	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/domain/normalize"
	"github.com/crmsync/backend/internal/infrastructure/config"
	"github.com/crmsync/backend/internal/infrastructure/crm"
	"github.com/crmsync/backend/internal/infrastructure/logger"
	"github.com/crmsync/backend/internal/infrastructure/persistence"
	"github.com/crmsync/backend/internal/infrastructure/source"
)

// app holds the per-invocation dependencies
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *persistence.Database
}

// newApp loads configuration and builds the logger. The daemon also writes
// to the rotating log file when the output is plain stdout.
func newApp(configPath, logLevel string, daemon bool) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(loggerConfig(cfg.Log, daemon))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &app{cfg: cfg, logger: log}, nil
}

func loggerConfig(lc config.LogConfig, daemon bool) *logger.Config {
	out := logger.DefaultConfig()
	if lc.Level != "" {
		out.Level = lc.Level
	}
	if lc.Format != "" {
		out.Format = lc.Format
	}
	if lc.Output != "" {
		out.Output = lc.Output
	}
	if daemon && out.Output == "stdout" {
		out.Output = logger.OutputStdoutAndFile
	}
	if lc.File.Path != "" {
		out.File = logger.FileConfig{
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAgeDays: lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		}
	}
	return out
}

// openDatabase connects and migrates the cache database
func (a *app) openDatabase() (*persistence.Database, error) {
	if a.db != nil {
		return a.db, nil
	}
	gormLog := logger.NewGormLogger(a.logger, logger.MapGormLogLevel(a.cfg.Log.Level),
		logger.WithIgnoreRecordNotFoundError(true))
	db, err := persistence.NewDatabase(&a.cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	a.db = db
	return db, nil
}

// storeService builds a service that only uses the local store
func (a *app) storeService() (*syncsvc.Service, error) {
	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	store := persistence.NewGormCustomerStore(db.DB)
	observer := syncsvc.NewLogObserver(a.logger)
	return syncsvc.NewService(nil, store, nil, observer, a.logger, a.serviceOptions()), nil
}

// syncService builds a service wired to the source API and the CRM. Extra
// observers receive every event next to the log observer.
func (a *app) syncService(extra ...customer.Observer) (*syncsvc.Service, error) {
	if err := a.cfg.ValidateForSync(); err != nil {
		return nil, err
	}
	a.logSummary()

	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	store := persistence.NewGormCustomerStore(db.DB)
	var observer customer.Observer = syncsvc.NewLogObserver(a.logger)
	if len(extra) > 0 {
		observer = append(syncsvc.Observers{observer}, extra...)
	}

	srcClient, err := source.NewClient(a.sourceConfig(), a.logger)
	if err != nil {
		return nil, err
	}
	reader := source.NewClientReader(srcClient, a.logger)

	crmClient, err := crm.NewClient(a.crmConfig(), a.logger)
	if err != nil {
		return nil, err
	}

	c := a.cfg.CRM
	reconciler, err := syncsvc.NewReconciler(crmClient, store, syncsvc.DealSettings{
		CategoryID:  c.DealCategoryID,
		StageID:     c.DealStageID,
		TitlePrefix: c.DealTitlePrefix,
		Fields: syncsvc.DealFieldIDs{
			ExternalID:       c.Fields.ExternalID,
			TaxID:            c.Fields.TaxID,
			Balance:          c.Fields.Balance,
			RegistrationDate: c.Fields.RegistrationDate,
			UpdateTime:       c.Fields.UpdateTime,
		},
	}, normalize.NewTimestamps(a.cfg.Sync.SourceTimezone, a.cfg.Sync.OutputTimezone), observer)
	if err != nil {
		return nil, err
	}

	return syncsvc.NewService(reader, store, reconciler, observer, a.logger, a.serviceOptions()), nil
}

func (a *app) serviceOptions() syncsvc.Options {
	loc, ok := normalize.ResolveLocation(a.cfg.Sync.SourceTimezone)
	if !ok {
		a.logger.Warn("Unknown source timezone, using UTC", zap.String("timezone", a.cfg.Sync.SourceTimezone))
	}
	return syncsvc.Options{
		CommitEvery:    a.cfg.Sync.CommitEvery,
		BatchLimit:     a.cfg.Sync.BatchLimit,
		SourceLocation: loc,
	}
}

func (a *app) sourceConfig() source.Config {
	s, h := a.cfg.Source, a.cfg.HTTP
	return source.Config{
		BaseURL:        s.BaseURL,
		Login:          s.Login,
		Password:       s.Password,
		Format:         s.Format,
		PageSize:       s.PageSize,
		MaxPages:       s.MaxPages,
		SafeguardPages: s.ScanSafeguardPages,
		Timeout:        h.Timeout,
		Retries:        h.Retries,
		RetryBackoff:   h.RetryBackoff,
		RateLimitSleep: h.RateLimitSleep,
	}
}

func (a *app) crmConfig() crm.Config {
	c, h := a.cfg.CRM, a.cfg.HTTP
	threshold := c.Breaker.FailureThreshold
	if threshold < 0 {
		threshold = 0
	}
	return crm.Config{
		WebhookURL:        c.WebhookURL,
		ContactTaxIDField: c.Fields.ContactTaxID,
		Timeout:           h.Timeout,
		Retries:           h.Retries,
		RetryBackoff:      h.RetryBackoff,
		RateLimitSleep:    h.RateLimitSleep,
		Breaker: crm.BreakerConfig{
			Enabled:          c.Breaker.Enabled,
			FailureThreshold: uint32(threshold),
			Timeout:          c.Breaker.Timeout,
		},
	}
}

// logSummary logs the effective settings with secrets masked
func (a *app) logSummary() {
	c := a.cfg
	a.logger.Info("Configuration loaded",
		zap.String("source_base_url", c.Source.BaseURL),
		zap.String("source_login", c.Source.Login),
		zap.String("source_password", source.MaskSecret(c.Source.Password)),
		zap.Int("page_size", c.Source.PageSize),
		zap.Int("max_pages", c.Source.MaxPages),
		zap.String("crm_webhook", crm.DescribeWebhook(c.CRM.WebhookURL)),
		zap.String("deal_category_id", c.CRM.DealCategoryID),
		zap.String("deal_stage_id", c.CRM.DealStageID),
		zap.Bool("breaker_enabled", c.CRM.Breaker.Enabled),
		zap.String("database_driver", c.Database.Driver),
		zap.String("database_path", c.Database.Path),
		zap.Duration("http_timeout", c.HTTP.Timeout),
		zap.Int("http_retries", c.HTTP.Retries),
		zap.Duration("sync_interval", c.Sync.Interval),
		zap.String("source_timezone", c.Sync.SourceTimezone),
		zap.String("output_timezone", c.Sync.OutputTimezone),
	)
}

// close releases the database and flushes the logger
func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
		a.db = nil
	}
	_ = logger.Sync(a.logger)
}

func since(start time.Time) zap.Field {
	return zap.Duration("took", time.Since(start).Round(time.Millisecond))
}
