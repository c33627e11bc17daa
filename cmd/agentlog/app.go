package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alfredjeanlab/agentlog/internal/config"
	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/store"
	"github.com/alfredjeanlab/agentlog/internal/store/memory"
	"github.com/alfredjeanlab/agentlog/internal/store/postgres"
	"github.com/alfredjeanlab/agentlog/internal/store/sqlite"
)

// app holds the flags and the opened event store shared by every command.
type app struct {
	out         io.Writer
	partition   string
	agent       string
	databaseURL string
	jsonOutput  bool
	noColor     bool

	cfg     *config.Config
	logger  *slog.Logger
	backend store.Store
	store   *eventstore.Store
}

// open loads the configuration and opens the configured backend.
func (a *app) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.databaseURL != "" {
		cfg.DatabaseURL = a.databaseURL
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backend, err := openBackend(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.backend = backend
	a.store = eventstore.New(backend,
		eventstore.WithLogger(a.logger),
		eventstore.WithSnapshotThreshold(cfg.SnapshotThreshold),
		eventstore.WithSubscriberBudget(cfg.SubscriberBudget),
	)
	return nil
}

// close releases the event store and its backend. It is safe to call more
// than once.
func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
		a.backend = nil
	}
	return errors.Join(errs...)
}

// requireAgent returns the --agent value or an error naming the flag.
func (a *app) requireAgent() (string, error) {
	if a.agent == "" {
		return "", fmt.Errorf("--agent is required (or set AGENTLOG_AGENT)")
	}
	return a.agent, nil
}

// openBackend opens the store.Store named by a database URL.
func openBackend(databaseURL string) (store.Store, error) {
	kind, location, err := config.ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.BackendPostgres:
		return postgres.New(location)
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		return sqlite.Open(location)
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", kind)
}
