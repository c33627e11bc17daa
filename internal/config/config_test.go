package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnvVars = []string{
	"AGENTLOG_DATABASE_URL", "AGENTLOG_HTTP_ADDR", "AGENTLOG_NATS_URL", "AGENTLOG_AUTH_TOKEN",
	"AGENTLOG_LOG_LEVEL", "AGENTLOG_SNAPSHOT_THRESHOLD", "AGENTLOG_SUBSCRIBER_BUDGET",
	"AGENTLOG_SYNC_INTERVAL", "AGENTLOG_SYNC_FILE", "AGENTLOG_SYNC_S3_BUCKET",
	"AGENTLOG_SYNC_S3_ENDPOINT", "AGENTLOG_SYNC_S3_REGION", "AGENTLOG_SYNC_S3_KEY",
	"AGENTLOG_SYNC_GIT_REPO", "AGENTLOG_SYNC_GIT_FILE", "AGENTLOG_SYNC_GIT_BRANCH",
}

// clearAllEnv empties every AGENTLOG_* variable and points HOME at an empty
// directory so no real config file is picked up.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AGENTLOG_CONFIG", "")
	os.Unsetenv("AGENTLOG_CONFIG")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(cfg.DatabaseURL, "sqlite://") || !strings.HasSuffix(cfg.DatabaseURL, "agentlog.db") {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.HTTPAddr != ":8080" || cfg.SnapshotThreshold != 100 || cfg.SubscriberBudget != 2*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty without a config file", cfg.Path)
	}
	if cfg.SyncEnabled() {
		t.Error("sync enabled without a destination")
	}
}

func TestLoad_Env(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "CustomAddresses",
			env: map[string]string{
				"AGENTLOG_DATABASE_URL": "postgres://db:5432/agentlog",
				"AGENTLOG_HTTP_ADDR":    ":3000",
				"AGENTLOG_NATS_URL":     "nats://localhost:4222",
			},
			check: func(t *testing.T, c *Config) {
				if c.HTTPAddr != ":3000" || c.NATSURL != "nats://localhost:4222" || c.DatabaseURL != "postgres://db:5432/agentlog" {
					t.Errorf("cfg = %+v", c)
				}
			},
		},
		{
			name: "Tuning",
			env: map[string]string{
				"AGENTLOG_SNAPSHOT_THRESHOLD": "25",
				"AGENTLOG_SUBSCRIBER_BUDGET":  "500ms",
				"AGENTLOG_LOG_LEVEL":          "debug",
			},
			check: func(t *testing.T, c *Config) {
				if c.SnapshotThreshold != 25 || c.SubscriberBudget != 500*time.Millisecond {
					t.Errorf("cfg = %+v", c)
				}
				if l, _ := c.SlogLevel(); l != slog.LevelDebug {
					t.Errorf("level = %v", l)
				}
			},
		},
		{name: "BadThreshold", env: map[string]string{"AGENTLOG_SNAPSHOT_THRESHOLD": "many"}, wantErr: true},
		{name: "NegativeThreshold", env: map[string]string{"AGENTLOG_SNAPSHOT_THRESHOLD": "-1"}, wantErr: true},
		{name: "BadBudget", env: map[string]string{"AGENTLOG_SUBSCRIBER_BUDGET": "soon"}, wantErr: true},
		{name: "BadLevel", env: map[string]string{"AGENTLOG_LOG_LEVEL": "loud"}, wantErr: true},
		{name: "BadScheme", env: map[string]string{"AGENTLOG_DATABASE_URL": "mysql://x"}, wantErr: true},
		{name: "BadSyncInterval", env: map[string]string{"AGENTLOG_SYNC_INTERVAL": "weekly"}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearAllEnv(t)
	path := writeConfig(t, `
database_url = "memory://"
http_addr = ":9999"
snapshot_threshold = 0
subscriber_budget = "1s"

[sync]
interval = "10m"
file = "/tmp/agentlog.jsonl"
s3_bucket = "exports"
`)
	t.Setenv("AGENTLOG_CONFIG", path)
	// Environment wins over the file.
	t.Setenv("AGENTLOG_HTTP_ADDR", ":7000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q, want %q", cfg.Path, path)
	}
	if cfg.DatabaseURL != "memory://" || cfg.HTTPAddr != ":7000" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SnapshotThreshold != 0 || cfg.SubscriberBudget != time.Second {
		t.Errorf("tuning = %d, %s", cfg.SnapshotThreshold, cfg.SubscriberBudget)
	}
	if cfg.SyncInterval != 10*time.Minute || cfg.SyncFile != "/tmp/agentlog.jsonl" || cfg.SyncS3Bucket != "exports" {
		t.Errorf("sync = %+v", cfg)
	}
	if cfg.SyncS3Region != "us-east-1" {
		t.Errorf("unset file key overrode default: region = %q", cfg.SyncS3Region)
	}
	if !cfg.SyncEnabled() {
		t.Error("sync should be enabled")
	}
}

func TestLoad_DefaultFile(t *testing.T) {
	clearAllEnv(t)
	path := DefaultPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`auth_token = "s3cret"`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuthToken != "s3cret" || cfg.Path != path {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		path func(t *testing.T) string
	}{
		{"Missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.toml") }},
		{"Malformed", func(t *testing.T) string { return writeConfig(t, "database_url = ") }},
		{"BadDuration", func(t *testing.T) string { return writeConfig(t, `subscriber_budget = "later"`) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("AGENTLOG_CONFIG", tc.path(t))
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestParseDatabaseURL(t *testing.T) {
	for _, tc := range []struct {
		url      string
		kind     string
		location string
		wantErr  bool
	}{
		{"postgres://u@db/agentlog", BackendPostgres, "postgres://u@db/agentlog", false},
		{"postgresql://db/agentlog", BackendPostgres, "postgresql://db/agentlog", false},
		{"sqlite:///var/lib/agentlog.db", BackendSQLite, "/var/lib/agentlog.db", false},
		{"sqlite://rel.db", BackendSQLite, "rel.db", false},
		{"memory://", BackendMemory, "", false},
		{"sqlite://", "", "", true},
		{"redis://x", "", "", true},
	} {
		kind, location, err := ParseDatabaseURL(tc.url)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseDatabaseURL(%q) err = %v", tc.url, err)
			continue
		}
		if kind != tc.kind || location != tc.location {
			t.Errorf("ParseDatabaseURL(%q) = %q, %q", tc.url, kind, location)
		}
	}
}
