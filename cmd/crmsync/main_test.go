package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmsync/backend/internal/application/syncsvc"
	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/config"
)

// fakeBackends serves the source users endpoint and the CRM webhook
type fakeBackends struct {
	source *httptest.Server
	crm    *httptest.Server

	contactsCreated atomic.Int32
	dealsCreated    atomic.Int32
}

func newFakeBackends(t *testing.T) *fakeBackends {
	t.Helper()
	f := &fakeBackends{}

	items := []map[string]any{
		{"userId": 101, "name": "Ivan", "organizationName": "Alpha", "mobile": "+79001112233", "email": "alpha@example.com"},
		{"userId": 102, "name": "Petr", "phone": "84951234567", "inn": "7707083893", "saldo": "15,50"},
	}
	f.source = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page := []map[string]any{}
		if limit > 0 && skip < len(items) {
			page = items[skip:min(len(items), skip+limit)]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": len(items), "items": page})
	}))
	t.Cleanup(f.source.Close)

	var nextID atomic.Int32
	nextID.Store(500)
	f.crm = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "crm.contact.list"):
			_, _ = w.Write([]byte(`{"result":[]}`))
		case strings.HasSuffix(r.URL.Path, "crm.contact.add"):
			f.contactsCreated.Add(1)
			fmt.Fprintf(w, `{"result":%d}`, nextID.Add(1))
		case strings.HasSuffix(r.URL.Path, "crm.deal.add"):
			f.dealsCreated.Add(1)
			fmt.Fprintf(w, `{"result":%d}`, nextID.Add(1))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"ERROR_METHOD_NOT_FOUND","error_description":"Method not found"}`))
		}
	}))
	t.Cleanup(f.crm.Close)
	return f
}

// writeConfig writes a config file pointing at the fakes and a temp sqlite file
func writeConfig(t *testing.T, f *fakeBackends) string {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	sourceURL, crmURL := "http://127.0.0.1:1/cp/users", "http://127.0.0.1:1/rest/1/token"
	if f != nil {
		sourceURL, crmURL = f.source.URL+"/cp/users", f.crm.URL+"/rest/1/token"
	}
	content := fmt.Sprintf(`
[source]
base_url = %q
login = "api"
password = "secret"
page_size = 50

[crm]
webhook_url = %q
deal_category_id = "7"
deal_stage_id = "C7:NEW"

[http]
timeout = 5
retries = 1
retry_backoff = 0
rate_limit_sleep = 0

[database]
driver = "sqlite"
path = %q

[log]
level = "error"
output = "stderr"
`, sourceURL, crmURL, filepath.Join(dir, "data", "cache.sqlite3"))

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv blanks the variables that would override the test config
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ABCP_BASE_URL", "ABCP_USERLOGIN", "ABCP_USERPSW", "B24_WEBHOOK_URL",
		"B24_DEAL_CATEGORY_ID_USERS", "B24_DEAL_STAGE_NEW_USERS", "SQLITE_PATH",
		"REQUESTS_RETRIES", "RATE_LIMIT_SLEEP", "LOG_LEVEL",
		"CRMSYNC_DATABASE_PATH", "CRMSYNC_DATABASE_DRIVER", "CRMSYNC_LOG_OUTPUT",
	} {
		t.Setenv(name, "")
	}
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExecute_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"status", "--nope"}},
		{"unexpected argument", []string{"status", "extra"}},
		{"bad date", []string{"import-today", "--date", "31.12.2024"}},
		{"negative limit", []string{"sync-crm", "--limit", "-1"}},
		{"missing path", []string{"load-file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(t, tt.args...)
			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestExecute_ConfigurationFailure(t *testing.T) {
	clearEnv(t)
	code, _, stderr := run(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "status")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "config")
}

func TestExecute_InitDBAndStatus(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	code, _, stderr := run(t, "--config", cfgPath, "init-db")
	require.Equal(t, exitOK, code, stderr)

	code, stdout, stderr := run(t, "--config", cfgPath, "status")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Customers: 0 total, 0 synced, 0 unsynced")
	assert.Contains(t, stdout, "Watermarks: none")
}

func TestExecute_LoadFile(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	dump := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(dump, []byte(`{"items":[{"userId":"1","name":"A"},{"userId":"2","name":"B"},{"name":"no id"}]}`), 0o600))

	code, stdout, stderr := run(t, "--config", cfgPath, "load-file", "--path", dump, "--commit-every", "1")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "imported 2, failed 1")
	assert.Contains(t, stdout, "Cached customers: 2")

	code, stdout, _ = run(t, "--config", cfgPath, "status")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "last_file_import_at")
}

func TestExecute_RunEndToEnd(t *testing.T) {
	backends := newFakeBackends(t)
	cfgPath := writeConfig(t, backends)

	code, stdout, stderr := run(t, "--config", cfgPath, "run")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Import full: processed 2, imported 2, failed 0")
	assert.Contains(t, stdout, "Push: attempted 2, synced 2, skipped 0, failed 0")
	assert.Equal(t, int32(2), backends.contactsCreated.Load())
	assert.Equal(t, int32(2), backends.dealsCreated.Load())

	// a second run re-imports but pushes nothing
	code, stdout, stderr = run(t, "--config", cfgPath, "run")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Push: attempted 0")
	assert.Equal(t, int32(2), backends.dealsCreated.Load())

	code, stdout, _ = run(t, "--config", cfgPath, "status")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Customers: 2 total, 2 synced, 0 unsynced")
	assert.Contains(t, stdout, "last_full_import_at")
	assert.Contains(t, stdout, "last_push_at")
}

func TestSyncService_ExtraObservers(t *testing.T) {
	backends := newFakeBackends(t)
	cfgPath := writeConfig(t, backends)

	a, err := newApp(cfgPath, "", false)
	require.NoError(t, err)
	defer a.close()

	tally := &syncsvc.Tally{}
	svc, err := a.syncService(tally)
	require.NoError(t, err)

	_, pushed, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pushed.Synced)
	assert.Equal(t, 2, tally.Count(customer.EventImported))
	assert.Equal(t, 2, tally.Count(customer.EventSynced))
}

func TestExecute_SyncNeedsSourceSettings(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("[database]\npath = %q\n[log]\noutput = \"stderr\"\n",
		filepath.Join(t.TempDir(), "c.sqlite3"))), 0o600))

	code, _, stderr := run(t, "--config", path, "sync-crm")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "configuration")
}

func TestLoggerConfig(t *testing.T) {
	lc := config.LogConfig{Level: "debug", Format: "json", Output: "stdout", File: config.LogFileConfig{Path: "x.log", MaxBackups: 3}}

	plain := loggerConfig(lc, false)
	assert.Equal(t, "stdout", plain.Output)
	assert.Equal(t, "debug", plain.Level)
	assert.Equal(t, "x.log", plain.File.Path)

	daemon := loggerConfig(lc, true)
	assert.Equal(t, "stdout+file", daemon.Output)

	lc.Output = "stderr"
	assert.Equal(t, "stderr", loggerConfig(lc, true).Output)
}
