package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/crmsync/backend/internal/domain/customer"
)

// Config holds all application configuration
type Config struct {
	Source   SourceConfig
	CRM      CRMConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Sync     SyncConfig
	Log      LogConfig
}

// SourceConfig holds settings of the paginated users endpoint
type SourceConfig struct {
	BaseURL            string `validate:"required,url"`
	Login              string `validate:"required"`
	Password           string `validate:"required"`
	Format             string
	PageSize           int `validate:"gt=0"`
	MaxPages           int `validate:"gte=0"` // 0 = unbounded
	ScanSafeguardPages int `validate:"gt=0"`
}

// CRMConfig holds CRM webhook and deal settings
type CRMConfig struct {
	WebhookURL      string `validate:"required,url"`
	DealCategoryID  string `validate:"required"`
	DealStageID     string `validate:"required"`
	DealTitlePrefix string
	Fields          CRMFieldConfig
	Breaker         BreakerConfig
}

// CRMFieldConfig holds custom field ids
type CRMFieldConfig struct {
	ExternalID       string
	TaxID            string
	Balance          string
	RegistrationDate string
	UpdateTime       string
	ContactTaxID     string
}

// BreakerConfig holds circuit breaker settings for CRM calls
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	Timeout          time.Duration
}

// HTTPConfig holds outbound HTTP settings shared by both clients
type HTTPConfig struct {
	Timeout        time.Duration `validate:"gt=0"`
	Retries        int           `validate:"gte=1"`
	RetryBackoff   time.Duration `validate:"gte=0"`
	RateLimitSleep time.Duration `validate:"gte=0"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string `validate:"oneof=sqlite postgres"`
	Path            string // sqlite file path
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// SyncConfig holds orchestration settings
type SyncConfig struct {
	Interval       time.Duration `validate:"gt=0"`
	BatchLimit     int           `validate:"gte=0"` // 0 = no cap
	CommitEvery    int           `validate:"gt=0"`
	SourceTimezone string
	OutputTimezone string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, file path, or stdout+file
	File   LogFileConfig
}

// LogFileConfig holds rotating log file settings
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// legacyEnv maps config keys to the environment names used by earlier
// deployments. They are consulted after the CRMSYNC_ prefixed name.
var legacyEnv = map[string]string{
	"source.base_url":             "ABCP_BASE_URL",
	"source.login":                "ABCP_USERLOGIN",
	"source.password":             "ABCP_USERPSW",
	"source.page_size":            "ABCP_LIMIT",
	"source.max_pages":            "ABCP_MAX_PAGES",
	"crm.webhook_url":             "B24_WEBHOOK_URL",
	"crm.deal_category_id":        "B24_DEAL_CATEGORY_ID_USERS",
	"crm.deal_stage_id":           "B24_DEAL_STAGE_NEW_USERS",
	"crm.fields.external_id":      "UF_B24_DEAL_ABCP_USER_ID",
	"crm.fields.tax_id":           "UF_B24_DEAL_INN",
	"crm.fields.balance":          "UF_B24_DEAL_SALDO",
	"crm.fields.registration":     "UF_B24_DEAL_REG_DATE",
	"crm.fields.update_time":      "UF_B24_DEAL_UPDATE_TIME",
	"database.path":               "SQLITE_PATH",
	"http.timeout":                "REQUESTS_TIMEOUT",
	"http.retries":                "REQUESTS_RETRIES",
	"http.retry_backoff":          "REQUESTS_RETRY_BACKOFF",
	"http.rate_limit_sleep":       "RATE_LIMIT_SLEEP",
	"sync.interval":               "SYNC_INTERVAL_SECONDS",
	"log.level":                   "LOG_LEVEL",
	"log.file.path":               "LOG_FILE",
	"sync.source_timezone":        "ABCP_TIMEZONE",
	"sync.output_timezone":        "B24_TIMEZONE",
	"crm.fields.contact_tax_id":   "UF_B24_CONTACT_INN",
	"crm.deal_title_prefix":       "B24_DEAL_TITLE_PREFIX_CLIENT",
	"source.scan_safeguard_pages": "ABCP_SAFEGUARD_PAGES",
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CRMSYNC_ prefix (e.g., CRMSYNC_SOURCE_PASSWORD)
// 2. Legacy environment variables (e.g., ABCP_USERPSW)
// 3. config.toml
// 4. Built-in defaults
//
// Load checks the settings every command needs. Commands that talk to the
// source or the CRM call ValidateForSync as well.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/crmsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("%w: error reading config file: %v", customer.ErrConfiguration, err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "CRMSYNC_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("%w: bind env %s: %v", customer.ErrConfiguration, key, err)
		}
	}

	cfg := &Config{
		Source: SourceConfig{
			BaseURL:            strings.TrimSpace(v.GetString("source.base_url")),
			Login:              strings.TrimSpace(v.GetString("source.login")),
			Password:           strings.TrimSpace(v.GetString("source.password")),
			Format:             v.GetString("source.format"),
			PageSize:           v.GetInt("source.page_size"),
			MaxPages:           v.GetInt("source.max_pages"),
			ScanSafeguardPages: v.GetInt("source.scan_safeguard_pages"),
		},
		CRM: CRMConfig{
			WebhookURL:      strings.TrimSpace(v.GetString("crm.webhook_url")),
			DealCategoryID:  strings.TrimSpace(v.GetString("crm.deal_category_id")),
			DealStageID:     strings.TrimSpace(v.GetString("crm.deal_stage_id")),
			DealTitlePrefix: v.GetString("crm.deal_title_prefix"),
			Fields: CRMFieldConfig{
				ExternalID:       v.GetString("crm.fields.external_id"),
				TaxID:            v.GetString("crm.fields.tax_id"),
				Balance:          v.GetString("crm.fields.balance"),
				RegistrationDate: v.GetString("crm.fields.registration"),
				UpdateTime:       v.GetString("crm.fields.update_time"),
				ContactTaxID:     v.GetString("crm.fields.contact_tax_id"),
			},
			Breaker: BreakerConfig{
				Enabled:          v.GetBool("crm.breaker.enabled"),
				FailureThreshold: v.GetInt("crm.breaker.failure_threshold"),
				Timeout:          v.GetDuration("crm.breaker.timeout"),
			},
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Sync: SyncConfig{
			BatchLimit:     v.GetInt("sync.batch_limit"),
			CommitEvery:    v.GetInt("sync.commit_every"),
			SourceTimezone: v.GetString("sync.source_timezone"),
			OutputTimezone: v.GetString("sync.output_timezone"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
			File: LogFileConfig{
				Path:       v.GetString("log.file.path"),
				MaxSizeMB:  v.GetInt("log.file.max_size_mb"),
				MaxBackups: v.GetInt("log.file.max_backups"),
				MaxAgeDays: v.GetInt("log.file.max_age_days"),
				Compress:   v.GetBool("log.file.compress"),
			},
		},
	}

	// Durations accept Go syntax ("1.5s") and plain seconds ("1.5").
	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"http.timeout", &cfg.HTTP.Timeout},
		{"http.retry_backoff", &cfg.HTTP.RetryBackoff},
		{"http.rate_limit_sleep", &cfg.HTTP.RateLimitSleep},
		{"sync.interval", &cfg.Sync.Interval},
	}
	for _, d := range durations {
		value, set, err := secondsOrDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", customer.ErrConfiguration, d.key, err)
		}
		if set {
			*d.target = value
		}
	}
	if raw := strings.TrimSpace(v.GetString("http.retries")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: http.retries: %v", customer.ErrConfiguration, err)
		}
		cfg.HTTP.Retries = n
	}

	applyDefaults(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Source.Format == "" {
		cfg.Source.Format = "p"
	}
	if cfg.Source.PageSize == 0 {
		cfg.Source.PageSize = 500
	}
	if cfg.Source.ScanSafeguardPages == 0 {
		cfg.Source.ScanSafeguardPages = 20
	}
	if cfg.CRM.DealTitlePrefix == "" {
		cfg.CRM.DealTitlePrefix = "Client #"
	}
	if cfg.CRM.Fields.ExternalID == "" {
		cfg.CRM.Fields.ExternalID = "UF_CRM_1738181468"
	}
	if cfg.CRM.Fields.TaxID == "" {
		cfg.CRM.Fields.TaxID = "UF_CRM_1713393074421"
	}
	if cfg.CRM.Fields.Balance == "" {
		cfg.CRM.Fields.Balance = "UF_CRM_1738182431"
	}
	if cfg.CRM.Fields.RegistrationDate == "" {
		cfg.CRM.Fields.RegistrationDate = "UF_CRM_1759089715"
	}
	if cfg.CRM.Fields.UpdateTime == "" {
		cfg.CRM.Fields.UpdateTime = "UF_CRM_1738256915999"
	}
	if cfg.CRM.Fields.ContactTaxID == "" {
		cfg.CRM.Fields.ContactTaxID = "UF_CRM_1759218031"
	}
	if !v.IsSet("crm.breaker.enabled") {
		cfg.CRM.Breaker.Enabled = true
	}
	if cfg.CRM.Breaker.FailureThreshold == 0 {
		cfg.CRM.Breaker.FailureThreshold = 5
	}
	if cfg.CRM.Breaker.Timeout == 0 {
		cfg.CRM.Breaker.Timeout = 60 * time.Second
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 20 * time.Second
	}
	if cfg.HTTP.Retries == 0 {
		cfg.HTTP.Retries = 3
	}
	if !v.IsSet("http.retry_backoff") {
		cfg.HTTP.RetryBackoff = 1500 * time.Millisecond
	}
	if !v.IsSet("http.rate_limit_sleep") {
		cfg.HTTP.RateLimitSleep = 200 * time.Millisecond
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/crmsync.sqlite3"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "crmsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 60 * time.Second
	}
	if cfg.Sync.CommitEvery == 0 {
		cfg.Sync.CommitEvery = 500
	}
	if cfg.Sync.SourceTimezone == "" {
		cfg.Sync.SourceTimezone = "Europe/Moscow"
	}
	if cfg.Sync.OutputTimezone == "" {
		cfg.Sync.OutputTimezone = "Europe/Moscow"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.File.MaxSizeMB == 0 {
		cfg.Log.File.MaxSizeMB = 50
	}
	if cfg.Log.File.MaxBackups == 0 {
		cfg.Log.File.MaxBackups = 14
	}
	if cfg.Log.File.MaxAgeDays == 0 {
		cfg.Log.File.MaxAgeDays = 14
	}
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	validate := validator.New()
	for _, section := range []any{&c.HTTP, &c.Database, &c.Sync} {
		if err := validate.Struct(section); err != nil {
			return wrapValidation(err)
		}
	}
	if c.Database.Driver == "postgres" && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("%w: database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			customer.ErrConfiguration, c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Source.MaxPages < 0 {
		return fmt.Errorf("%w: source.max_pages cannot be negative", customer.ErrConfiguration)
	}
	return nil
}

// ValidateForSync additionally requires the source and CRM settings.
func (c *Config) ValidateForSync() error {
	if err := c.Validate(); err != nil {
		return err
	}
	validate := validator.New()
	for _, section := range []any{&c.Source, &c.CRM} {
		if err := validate.Struct(section); err != nil {
			return wrapValidation(err)
		}
	}
	return nil
}

func wrapValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", customer.ErrConfiguration, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", customer.ErrConfiguration, strings.Join(msgs, "; "))
}

// secondsOrDuration parses "1.5" as seconds and "1.5s" as a Go duration.
func secondsOrDuration(raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
