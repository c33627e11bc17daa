// Package sqlite implements the store.Store interface on an embedded SQLite
// database, for single-host deployments and local CLI use.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path and applies
// pending migrations. Write transactions take the database lock up front
// so that two appenders never both read the same counter value.
func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	cleanPath = filepath.Clean(cleanPath)

	dsn := "file:" + cleanPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvent claims the next partition sequence and inserts the event in
// one transaction.
func (s *Store) AppendEvent(ctx context.Context, event *model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Timestamp = event.Timestamp.UTC().Truncate(time.Millisecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO event_seqs (partition_id, next_seq) VALUES (?, 2)
		ON CONFLICT (partition_id) DO UPDATE SET next_seq = event_seqs.next_seq + 1
		RETURNING next_seq - 1`,
		event.PartitionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (partition_id, seq, id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.PartitionID, seq, event.ID, string(event.Type), string(event.Payload), toMillis(event.Timestamp),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	event.Sequence = uint64(seq)
	return nil
}

// ListEvents returns events in ascending sequence order.
func (s *Store) ListEvents(ctx context.Context, partitionID string, filter store.EventFilter) ([]*model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := `SELECT partition_id, seq, id, type, payload, created_at FROM events
		WHERE partition_id = ? AND seq > ?`
	args := []any{partitionID, int64(filter.AfterSeq)}
	if filter.UntilSeq > 0 {
		q += ` AND seq <= ?`
		args = append(args, int64(filter.UntilSeq))
	}
	q += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		var (
			e       model.Event
			seq     int64
			typ     string
			payload string
			millis  int64
		)
		if err := rows.Scan(&e.PartitionID, &seq, &e.ID, &typ, &payload, &millis); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Type = model.EventType(typ)
		e.Payload = []byte(payload)
		e.Timestamp = fromMillis(millis)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// LastSequence returns the highest committed sequence for a partition.
func (s *Store) LastSequence(ctx context.Context, partitionID string) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE partition_id = ?`, partitionID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// ListPartitions returns the distinct partitions present in the log.
func (s *Store) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT partition_id FROM events ORDER BY partition_id`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PutSnapshot upserts the snapshot row for its key.
func (s *Store) PutSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (partition_id, projection_name, sequence_upto, state, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (partition_id, projection_name) DO UPDATE SET
			sequence_upto = excluded.sequence_upto,
			state = excluded.state,
			schema_version = excluded.schema_version,
			created_at = excluded.created_at`,
		snapshot.PartitionID, snapshot.ProjectionName, int64(snapshot.SequenceUpto),
		snapshot.State, snapshot.SchemaVersion, toMillis(snapshot.CreatedAt),
	); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads the snapshot for (partitionID, projectionName).
func (s *Store) GetSnapshot(ctx context.Context, partitionID, projectionName string) (*model.Snapshot, error) {
	var (
		snap   model.Snapshot
		upto   int64
		millis int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT partition_id, projection_name, sequence_upto, state, schema_version, created_at
		FROM snapshots WHERE partition_id = ? AND projection_name = ?`,
		partitionID, projectionName,
	).Scan(&snap.PartitionID, &snap.ProjectionName, &upto, &snap.State, &snap.SchemaVersion, &millis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.SequenceUpto = uint64(upto)
	snap.CreatedAt = fromMillis(millis)
	return &snap, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
