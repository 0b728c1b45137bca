package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/backend/internal/domain/customer"
)

// clearEnv blanks every variable Load reads. Viper ignores empty values.
func clearEnv(t *testing.T) {
	t.Helper()
	for key, legacy := range legacyEnv {
		t.Setenv(legacy, "")
		t.Setenv("CRMSYNC_"+envName(key), "")
	}
	for _, name := range []string{
		"CRMSYNC_DATABASE_DRIVER",
		"CRMSYNC_SYNC_COMMIT_EVERY",
		"CRMSYNC_SYNC_BATCH_LIMIT",
		"CRMSYNC_CRM_BREAKER_ENABLED",
		"CRMSYNC_LOG_OUTPUT",
	} {
		t.Setenv(name, "")
	}
}

func envName(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '.':
			out = append(out, '_')
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func setSyncEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ABCP_BASE_URL", "https://abcp.example.com/cp/users")
	t.Setenv("ABCP_USERLOGIN", "api")
	t.Setenv("ABCP_USERPSW", "secret")
	t.Setenv("B24_WEBHOOK_URL", "https://crm.example.com/rest/1/token")
	t.Setenv("B24_DEAL_CATEGORY_ID_USERS", "7")
	t.Setenv("B24_DEAL_STAGE_NEW_USERS", "C7:NEW")
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "p", cfg.Source.Format)
		assert.Equal(t, 500, cfg.Source.PageSize)
		assert.Equal(t, 0, cfg.Source.MaxPages)
		assert.Equal(t, 20, cfg.Source.ScanSafeguardPages)
		assert.Equal(t, 20*time.Second, cfg.HTTP.Timeout)
		assert.Equal(t, 3, cfg.HTTP.Retries)
		assert.Equal(t, 1500*time.Millisecond, cfg.HTTP.RetryBackoff)
		assert.Equal(t, 200*time.Millisecond, cfg.HTTP.RateLimitSleep)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "data/crmsync.sqlite3", cfg.Database.Path)
		assert.Equal(t, 60*time.Second, cfg.Sync.Interval)
		assert.Equal(t, 500, cfg.Sync.CommitEvery)
		assert.Equal(t, "Client #", cfg.CRM.DealTitlePrefix)
		assert.Equal(t, "UF_CRM_1738181468", cfg.CRM.Fields.ExternalID)
		assert.Equal(t, "UF_CRM_1759218031", cfg.CRM.Fields.ContactTaxID)
		assert.True(t, cfg.CRM.Breaker.Enabled)
		assert.Equal(t, 5, cfg.CRM.Breaker.FailureThreshold)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "stdout", cfg.Log.Output)
	})

	t.Run("sync settings are required only for sync", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		err = cfg.ValidateForSync()
		require.Error(t, err)
		assert.ErrorIs(t, err, customer.ErrConfiguration)
		assert.Contains(t, err.Error(), "BaseURL")
	})

	t.Run("reads legacy environment names", func(t *testing.T) {
		clearEnv(t)
		setSyncEnv(t)
		t.Setenv("ABCP_LIMIT", "200")
		t.Setenv("REQUESTS_TIMEOUT", "30")
		t.Setenv("RATE_LIMIT_SLEEP", "0.5")
		t.Setenv("SQLITE_PATH", "/tmp/users.sqlite3")

		cfg, err := Load()
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateForSync())

		assert.Equal(t, "https://abcp.example.com/cp/users", cfg.Source.BaseURL)
		assert.Equal(t, "api", cfg.Source.Login)
		assert.Equal(t, 200, cfg.Source.PageSize)
		assert.Equal(t, "7", cfg.CRM.DealCategoryID)
		assert.Equal(t, "C7:NEW", cfg.CRM.DealStageID)
		assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
		assert.Equal(t, 500*time.Millisecond, cfg.HTTP.RateLimitSleep)
		assert.Equal(t, "/tmp/users.sqlite3", cfg.Database.Path)
	})

	t.Run("prefixed names override legacy names", func(t *testing.T) {
		clearEnv(t)
		setSyncEnv(t)
		t.Setenv("CRMSYNC_SOURCE_PAGE_SIZE", "50")
		t.Setenv("ABCP_LIMIT", "200")
		t.Setenv("CRMSYNC_HTTP_RETRY_BACKOFF", "250ms")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 50, cfg.Source.PageSize)
		assert.Equal(t, 250*time.Millisecond, cfg.HTTP.RetryBackoff)
	})

	t.Run("zero rate limit sleep is kept", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("RATE_LIMIT_SLEEP", "0")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Zero(t, cfg.HTTP.RateLimitSleep)
	})

	t.Run("rejects malformed durations", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REQUESTS_TIMEOUT", "soon")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, customer.ErrConfiguration)
	})

	t.Run("rejects unknown database driver", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CRMSYNC_DATABASE_DRIVER", "mysql")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, customer.ErrConfiguration)
	})

	t.Run("reads explicit toml file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "crmsync.toml")
		content := `
[source]
base_url = "https://abcp.example.com/cp/users"
login = "file-login"
password = "file-pass"
page_size = 100

[crm]
webhook_url = "https://crm.example.com/rest/1/token"
deal_category_id = "3"
deal_stage_id = "C3:NEW"

[crm.breaker]
enabled = false

[sync]
commit_every = 25
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateForSync())
		assert.Equal(t, "file-login", cfg.Source.Login)
		assert.Equal(t, 100, cfg.Source.PageSize)
		assert.Equal(t, 25, cfg.Sync.CommitEvery)
		assert.False(t, cfg.CRM.Breaker.Enabled)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
		assert.ErrorIs(t, err, customer.ErrConfiguration)
	})
}

func TestSecondsOrDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
		set  bool
	}{
		{"", 0, false},
		{"20", 20 * time.Second, true},
		{"0.2", 200 * time.Millisecond, true},
		{"1m30s", 90 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, set, err := secondsOrDuration(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.set, set)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("sqlite uses the path", func(t *testing.T) {
		cfg := DatabaseConfig{Driver: "sqlite", Path: "data/x.sqlite3"}
		assert.Equal(t, "data/x.sqlite3", cfg.DSN())
	})

	t.Run("postgres escapes credentials", func(t *testing.T) {
		cfg := DatabaseConfig{
			Driver:   "postgres",
			Host:     "db",
			Port:     5432,
			User:     "sync",
			Password: "p@ss word",
			DBName:   "crmsync",
			SSLMode:  "disable",
		}
		assert.Equal(t, "postgres://sync:p%40ss%20word@db:5432/crmsync?sslmode=disable", cfg.DSN())
	})
}
