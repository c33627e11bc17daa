// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// newWithDB wraps an already-migrated connection. Used by tests.
func newWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AppendEvent claims the next sequence and inserts the event in a single
// transaction; a failed insert rolls the counter back so no gap is left.
func (s *PostgresStore) AppendEvent(ctx context.Context, event *model.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	// Postgres keeps microseconds; truncate so the returned event matches
	// what a later read observes.
	event.Timestamp = event.Timestamp.UTC().Truncate(time.Microsecond)

	err := s.runInTransaction(ctx, func(tx executor) error {
		seq, err := queryNextSeq(ctx, tx, event.PartitionID)
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		event.Sequence = seq
		if err := queryInsertEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		event.Sequence = 0
	}
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, partitionID string, filter store.EventFilter) ([]*model.Event, error) {
	return queryListEvents(ctx, s.db, partitionID, filter)
}

func (s *PostgresStore) LastSequence(ctx context.Context, partitionID string) (uint64, error) {
	return queryLastSequence(ctx, s.db, partitionID)
}

func (s *PostgresStore) ListPartitions(ctx context.Context) ([]string, error) {
	return queryListPartitions(ctx, s.db)
}

func (s *PostgresStore) PutSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	return queryPutSnapshot(ctx, s.db, snapshot)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, partitionID, projectionName string) (*model.Snapshot, error) {
	return queryGetSnapshot(ctx, s.db, partitionID, projectionName)
}

// runInTransaction begins a database transaction, calls fn, and commits on
// success or rolls back on error.
func (s *PostgresStore) runInTransaction(ctx context.Context, fn func(tx executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
