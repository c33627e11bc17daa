// Package config loads agentlog settings from an optional TOML file
// overlaid with AGENTLOG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend kinds accepted in DatabaseURL.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type Config struct {
	DatabaseURL string // AGENTLOG_DATABASE_URL (postgres://..., sqlite://path or memory://)
	HTTPAddr    string // AGENTLOG_HTTP_ADDR (default ":8080")
	NATSURL     string // AGENTLOG_NATS_URL (optional, empty = no fan-out)
	AuthToken   string // AGENTLOG_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    string // AGENTLOG_LOG_LEVEL (default "info")

	SnapshotThreshold int           // AGENTLOG_SNAPSHOT_THRESHOLD (default 100; 0 = disabled)
	SubscriberBudget  time.Duration // AGENTLOG_SUBSCRIBER_BUDGET (default 2s)

	// Sync settings
	SyncInterval   time.Duration // AGENTLOG_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncFile       string        // AGENTLOG_SYNC_FILE (enables the file destination when set)
	SyncS3Bucket   string        // AGENTLOG_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // AGENTLOG_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // AGENTLOG_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // AGENTLOG_SYNC_S3_KEY (default "agentlog/export.jsonl")
	SyncGitRepo    string        // AGENTLOG_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // AGENTLOG_SYNC_GIT_FILE (default "agentlog.jsonl")
	SyncGitBranch  string        // AGENTLOG_SYNC_GIT_BRANCH (default "main")

	// Path is the config file that was read, empty when none was.
	Path string
}

// fileConfig mirrors Config in the TOML file. Durations are strings.
type fileConfig struct {
	DatabaseURL       string `toml:"database_url"`
	HTTPAddr          string `toml:"http_addr"`
	NATSURL           string `toml:"nats_url"`
	AuthToken         string `toml:"auth_token"`
	LogLevel          string `toml:"log_level"`
	SnapshotThreshold *int   `toml:"snapshot_threshold"`
	SubscriberBudget  string `toml:"subscriber_budget"`
	Sync              struct {
		Interval   string `toml:"interval"`
		File       string `toml:"file"`
		S3Bucket   string `toml:"s3_bucket"`
		S3Endpoint string `toml:"s3_endpoint"`
		S3Region   string `toml:"s3_region"`
		S3Key      string `toml:"s3_key"`
		GitRepo    string `toml:"git_repo"`
		GitFile    string `toml:"git_file"`
		GitBranch  string `toml:"git_branch"`
	} `toml:"sync"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DatabaseURL:       "sqlite://" + filepath.Join(stateDir(), "agentlog.db"),
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		SnapshotThreshold: 100,
		SubscriberBudget:  2 * time.Second,
		SyncInterval:      3 * time.Minute,
		SyncS3Region:      "us-east-1",
		SyncS3Key:         "agentlog/export.jsonl",
		SyncGitFile:       "agentlog.jsonl",
		SyncGitBranch:     "main",
	}
}

// DefaultPath returns ~/.config/agentlog/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "agentlog", "config.toml")
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "agentlog")
}

// Load builds the configuration from defaults, then the file named by
// AGENTLOG_CONFIG (or DefaultPath when unset), then the environment. A
// missing default file is ignored; a missing explicit file is an error.
func Load() (*Config, error) {
	c := Defaults()

	path, explicit := os.LookupEnv("AGENTLOG_CONFIG")
	if !explicit || path == "" {
		path, explicit = DefaultPath(), false
	}
	if path != "" {
		if err := c.loadFile(path); err != nil {
			if !explicit && errors.Is(err, os.ErrNotExist) {
				err = nil
			}
			if err != nil {
				return nil, err
			}
		} else {
			c.Path = path
		}
	}

	if err := c.loadEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.HTTPAddr, f.HTTPAddr)
	setString(&c.NATSURL, f.NATSURL)
	setString(&c.AuthToken, f.AuthToken)
	setString(&c.LogLevel, f.LogLevel)
	if f.SnapshotThreshold != nil {
		c.SnapshotThreshold = *f.SnapshotThreshold
	}
	if err := setDuration(&c.SubscriberBudget, "subscriber_budget", f.SubscriberBudget); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if err := setDuration(&c.SyncInterval, "sync.interval", f.Sync.Interval); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	setString(&c.SyncFile, f.Sync.File)
	setString(&c.SyncS3Bucket, f.Sync.S3Bucket)
	setString(&c.SyncS3Endpoint, f.Sync.S3Endpoint)
	setString(&c.SyncS3Region, f.Sync.S3Region)
	setString(&c.SyncS3Key, f.Sync.S3Key)
	setString(&c.SyncGitRepo, f.Sync.GitRepo)
	setString(&c.SyncGitFile, f.Sync.GitFile)
	setString(&c.SyncGitBranch, f.Sync.GitBranch)
	return nil
}

func (c *Config) loadEnv() error {
	c.DatabaseURL = envOrDefault("AGENTLOG_DATABASE_URL", c.DatabaseURL)
	c.HTTPAddr = envOrDefault("AGENTLOG_HTTP_ADDR", c.HTTPAddr)
	c.NATSURL = envOrDefault("AGENTLOG_NATS_URL", c.NATSURL)
	c.AuthToken = envOrDefault("AGENTLOG_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = envOrDefault("AGENTLOG_LOG_LEVEL", c.LogLevel)
	c.SyncFile = envOrDefault("AGENTLOG_SYNC_FILE", c.SyncFile)
	c.SyncS3Bucket = envOrDefault("AGENTLOG_SYNC_S3_BUCKET", c.SyncS3Bucket)
	c.SyncS3Endpoint = envOrDefault("AGENTLOG_SYNC_S3_ENDPOINT", c.SyncS3Endpoint)
	c.SyncS3Region = envOrDefault("AGENTLOG_SYNC_S3_REGION", c.SyncS3Region)
	c.SyncS3Key = envOrDefault("AGENTLOG_SYNC_S3_KEY", c.SyncS3Key)
	c.SyncGitRepo = envOrDefault("AGENTLOG_SYNC_GIT_REPO", c.SyncGitRepo)
	c.SyncGitFile = envOrDefault("AGENTLOG_SYNC_GIT_FILE", c.SyncGitFile)
	c.SyncGitBranch = envOrDefault("AGENTLOG_SYNC_GIT_BRANCH", c.SyncGitBranch)

	if v := os.Getenv("AGENTLOG_SNAPSHOT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTLOG_SNAPSHOT_THRESHOLD: %w", err)
		}
		c.SnapshotThreshold = n
	}
	if err := setDuration(&c.SubscriberBudget, "AGENTLOG_SUBSCRIBER_BUDGET", os.Getenv("AGENTLOG_SUBSCRIBER_BUDGET")); err != nil {
		return err
	}
	return setDuration(&c.SyncInterval, "AGENTLOG_SYNC_INTERVAL", os.Getenv("AGENTLOG_SYNC_INTERVAL"))
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("AGENTLOG_DATABASE_URL is required")
	}
	if _, _, err := ParseDatabaseURL(c.DatabaseURL); err != nil {
		return err
	}
	if c.SnapshotThreshold < 0 {
		return fmt.Errorf("snapshot threshold must not be negative, got %d", c.SnapshotThreshold)
	}
	if c.SubscriberBudget <= 0 {
		return fmt.Errorf("subscriber budget must be positive, got %s", c.SubscriberBudget)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// SyncEnabled reports whether periodic export should run.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && (c.SyncFile != "" || c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

// ParseDatabaseURL splits a database URL into a backend kind and the
// location handed to that backend.
func ParseDatabaseURL(url string) (kind, location string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return BackendPostgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("database url %q: missing sqlite path", url)
		}
		return BackendSQLite, path, nil
	case url == "memory://" || url == "memory":
		return BackendMemory, "", nil
	}
	return "", "", fmt.Errorf("database url %q: unsupported scheme (want postgres://, sqlite:// or memory://)", url)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
