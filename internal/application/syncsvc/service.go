package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/logger"
)

const (
	// DefaultCommitEvery is the number of upserts between two flushes.
	DefaultCommitEvery = 500
	// DefaultProgressEvery is the number of records between two progress events.
	DefaultProgressEvery = 100
)

// DayLayout is the reference date format used by ImportChangedToday.
const DayLayout = "2006-01-02"

// Source produces record streams from the upstream API.
type Source interface {
	StreamAll(ctx context.Context) customer.RecordStream
	StreamChangedToday(ctx context.Context, day string) customer.RecordStream
}

// Options tunes the orchestrator
type Options struct {
	// CommitEvery flushes the import session every N records.
	CommitEvery int
	// ProgressEvery emits a progress event every N records.
	ProgressEvery int
	// BatchLimit caps PushUnsynced when the caller passes no limit. Zero means no cap.
	BatchLimit int
	// SourceLocation is the timezone that defines "today" for the source.
	SourceLocation *time.Location
}

// ImportResult summarizes one import run.
type ImportResult struct {
	RunID     string
	Label     string
	Processed int
	Imported  int
	Failed    int
	Stats     customer.ScanStats
}

// PushResult summarizes one push run.
type PushResult struct {
	RunID     string
	Attempted int
	Synced    int
	Skipped   int
	Failed    int
}

// Service wires the source, the local store and the reconciler into the
// import and push operations.
type Service struct {
	source     Source
	store      customer.Store
	reconciler *Reconciler
	observer   customer.Observer
	logger     *zap.Logger
	opts       Options
	now        func() time.Time
}

// NewService creates a Service. source or reconciler may be nil for commands
// that only use the local store, e.g. file imports.
func NewService(source Source, store customer.Store, reconciler *Reconciler, observer customer.Observer, log *zap.Logger, opts Options) *Service {
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = DefaultCommitEvery
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.SourceLocation == nil {
		opts.SourceLocation = time.UTC
	}
	if observer == nil {
		observer = customer.NopObserver{}
	}
	return &Service{
		source:     source,
		store:      store,
		reconciler: reconciler,
		observer:   observer,
		logger:     logger.OrNop(log).Named("sync"),
		opts:       opts,
		now:        time.Now,
	}
}

// ErrNotConfigured is returned when an operation needs a collaborator the
// service was built without.
var ErrNotConfigured = fmt.Errorf("%w: operation not configured", customer.ErrConfiguration)

// Today returns the current date in the source timezone.
func (s *Service) Today() string {
	return s.now().In(s.opts.SourceLocation).Format(DayLayout)
}

// ImportAll imports every record the source returns.
func (s *Service) ImportAll(ctx context.Context) (ImportResult, error) {
	if s.source == nil {
		return ImportResult{Label: customer.LabelFull}, ErrNotConfigured
	}
	return s.importStream(ctx, customer.LabelFull, s.source.StreamAll(ctx), s.opts.CommitEvery)
}

// ImportChangedToday imports the records registered on day (YYYY-MM-DD).
// An empty day means today in the source timezone.
func (s *Service) ImportChangedToday(ctx context.Context, day string) (ImportResult, error) {
	if s.source == nil {
		return ImportResult{Label: customer.LabelIncremental}, ErrNotConfigured
	}
	if day == "" {
		day = s.Today()
	}
	if _, err := time.Parse(DayLayout, day); err != nil {
		return ImportResult{Label: customer.LabelIncremental}, fmt.Errorf("%w: reference date %q is not YYYY-MM-DD", customer.ErrValidation, day)
	}
	return s.importStream(ctx, customer.LabelIncremental, s.source.StreamChangedToday(ctx, day), s.opts.CommitEvery)
}

// ImportFromFile imports a previously saved page. commitEvery <= 0 uses the
// configured interval.
func (s *Service) ImportFromFile(ctx context.Context, stream customer.RecordStream, commitEvery int) (ImportResult, error) {
	if commitEvery <= 0 {
		commitEvery = s.opts.CommitEvery
	}
	return s.importStream(ctx, customer.LabelFile, stream, commitEvery)
}

// importStream upserts every record of stream. A failing record is reported
// and skipped. A stream error ends the run after committing what was
// imported so far; the watermark is only written for complete runs.
func (s *Service) importStream(ctx context.Context, label string, stream customer.RecordStream, commitEvery int) (ImportResult, error) {
	res := ImportResult{RunID: uuid.NewString(), Label: label}
	ctx, log := logger.WithRunID(ctx, s.logger, res.RunID)
	ctx, log = logger.WithOperation(ctx, log, "import_"+label)

	log.Info("Import started", zap.Int("commit_every", commitEvery))
	started := s.now()

	session, err := s.store.BeginImport(ctx)
	if err != nil {
		return res, fmt.Errorf("import %s: %w", label, err)
	}

	var streamErr error
	for rec, err := range stream.Records() {
		if err != nil {
			streamErr = err
			break
		}
		res.Processed++

		if c, err := session.Upsert(ctx, rec); err != nil {
			res.Failed++
			id, _ := rec.ExternalID()
			s.observer.Observe(customer.Event{Kind: customer.EventImportFailed, ExternalID: id, Err: err})
			if ctxErr := ctx.Err(); ctxErr != nil {
				streamErr = ctxErr
				break
			}
		} else {
			res.Imported++
			s.observer.Observe(customer.Event{Kind: customer.EventImported, ExternalID: c.ExternalID})
		}

		if res.Processed%s.opts.ProgressEvery == 0 {
			s.observer.Observe(customer.Event{Kind: customer.EventProgress, Count: res.Processed})
		}
		if res.Processed%commitEvery == 0 {
			if err := session.Flush(ctx); err != nil {
				return res, fmt.Errorf("import %s: flush after %d records: %w", label, res.Processed, errors.Join(err, session.Abort()))
			}
			log.Debug("Import batch committed", zap.Int("processed", res.Processed))
		}
	}
	res.Stats = stream.Stats()

	if err := session.Close(ctx); err != nil {
		return res, fmt.Errorf("import %s: %w", label, errors.Join(streamErr, err))
	}
	if streamErr != nil {
		log.Error("Import aborted",
			zap.Int("processed", res.Processed),
			zap.Int("imported", res.Imported),
			zap.Error(streamErr),
		)
		return res, fmt.Errorf("import %s: %w", label, streamErr)
	}

	if res.Stats.Truncated {
		s.observer.Observe(customer.Event{Kind: customer.EventTruncated, Count: res.Processed})
	}
	if err := s.store.SetWatermark(ctx, customer.ImportWatermark(label), s.now().UTC().Format(time.RFC3339)); err != nil {
		return res, fmt.Errorf("import %s: %w", label, err)
	}

	log.Info("Import finished",
		zap.Int("processed", res.Processed),
		zap.Int("imported", res.Imported),
		zap.Int("failed", res.Failed),
		zap.Int("pages", res.Stats.Pages),
		zap.Bool("truncated", res.Stats.Truncated),
		zap.Bool("fallback", res.Stats.Fallback),
		zap.Duration("took", s.now().Sub(started)),
	)
	return res, nil
}

// PushUnsynced reconciles up to limit unsynced customers in insertion order.
// limit <= 0 uses the configured batch limit. Per-record failures are counted,
// not returned; the batch only stops when the CRM is unavailable or ctx ends.
func (s *Service) PushUnsynced(ctx context.Context, limit int) (PushResult, error) {
	res := PushResult{RunID: uuid.NewString()}
	if s.reconciler == nil {
		return res, ErrNotConfigured
	}
	if limit <= 0 {
		limit = s.opts.BatchLimit
	}
	ctx, log := logger.WithRunID(ctx, s.logger, res.RunID)
	ctx, log = logger.WithOperation(ctx, log, "push")

	batch, err := s.store.ListUnsynced(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}
	log.Info("Push started", zap.Int("batch", len(batch)), zap.Int("limit", limit))
	if len(batch) == 0 {
		log.Info("Nothing to push")
		return res, nil
	}

	for _, c := range batch {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("push stopped after %d of %d records: %w", res.Attempted, len(batch), err)
		}

		outcome, err := s.reconciler.Reconcile(ctx, c)
		res.Attempted++
		switch outcome {
		case OutcomeSynced:
			res.Synced++
		case OutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
		if err != nil {
			log.Error("Push aborted", zap.String("external_id", c.ExternalID), zap.Error(err))
			return res, fmt.Errorf("push stopped after %d of %d records: %w", res.Attempted, len(batch), err)
		}
	}

	if err := s.store.SetWatermark(ctx, customer.WatermarkLastPush, s.now().UTC().Format(time.RFC3339)); err != nil {
		return res, fmt.Errorf("push: %w", err)
	}
	log.Info("Push finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("synced", res.Synced),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// Run performs a full import followed by a push of every unsynced record.
func (s *Service) Run(ctx context.Context) (ImportResult, PushResult, error) {
	imported, err := s.ImportAll(ctx)
	if err != nil {
		return imported, PushResult{}, err
	}
	pushed, err := s.PushUnsynced(ctx, 0)
	return imported, pushed, err
}

// Tick runs one daemon iteration: import the records registered today, then
// push. An import failure does not prevent the push.
func (s *Service) Tick(ctx context.Context) error {
	_, importErr := s.ImportChangedToday(ctx, "")
	if importErr != nil && ctx.Err() != nil {
		return importErr
	}
	_, pushErr := s.PushUnsynced(ctx, 0)
	return errors.Join(importErr, pushErr)
}

// EnsureFullImport runs ImportAll once, when no full import was ever recorded.
func (s *Service) EnsureFullImport(ctx context.Context) (bool, error) {
	_, done, err := s.store.GetWatermark(ctx, customer.ImportWatermark(customer.LabelFull))
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	s.logger.Info("No full import recorded, running initial full import")
	if _, err := s.ImportAll(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Counts returns cache totals.
func (s *Service) Counts(ctx context.Context) (customer.Counts, error) {
	return s.store.Counts(ctx)
}

// Watermarks returns every stored watermark.
func (s *Service) Watermarks(ctx context.Context) (map[string]string, error) {
	return s.store.Watermarks(ctx)
}
