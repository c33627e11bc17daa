package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `partition_id, seq, id, type, payload, created_at`

// snapshotColumns is the column list used for SELECT statements on the snapshots table.
const snapshotColumns = `partition_id, projection_name, sequence_upto, state, schema_version, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryNextSeq claims the next sequence for a partition. The upsert takes a
// row lock on the counter that is held until the surrounding transaction
// ends, so concurrent appenders to the same partition queue behind it.
func queryNextSeq(ctx context.Context, db executor, partitionID string) (uint64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO event_seqs (partition_id, next_seq)
		VALUES ($1, 2)
		ON CONFLICT (partition_id) DO UPDATE SET next_seq = event_seqs.next_seq + 1
		RETURNING next_seq - 1`,
		partitionID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func queryInsertEvent(ctx context.Context, db executor, e *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (partition_id, seq, id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.PartitionID,
		int64(e.Sequence),
		e.ID,
		string(e.Type),
		string(e.Payload),
		e.Timestamp,
	)
	return err
}

func queryListEvents(ctx context.Context, db executor, partitionID string, filter store.EventFilter) ([]*model.Event, error) {
	args := []any{partitionID, int64(filter.AfterSeq)}
	q := `SELECT ` + eventColumns + ` FROM events WHERE partition_id = $1 AND seq > $2`
	if filter.UntilSeq > 0 {
		args = append(args, int64(filter.UntilSeq))
		q += fmt.Sprintf(" AND seq <= $%d", len(args))
	}
	q += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func queryLastSequence(ctx context.Context, db executor, partitionID string) (uint64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events WHERE partition_id = $1`,
		partitionID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func queryListPartitions(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT partition_id FROM events ORDER BY partition_id ASC`)
	if err != nil {
		return nil, err
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

func queryPutSnapshot(ctx context.Context, db executor, s *model.Snapshot) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (partition_id, projection_name) DO UPDATE SET
			sequence_upto = EXCLUDED.sequence_upto,
			state = EXCLUDED.state,
			schema_version = EXCLUDED.schema_version,
			created_at = EXCLUDED.created_at`,
		s.PartitionID,
		s.ProjectionName,
		int64(s.SequenceUpto),
		s.State,
		s.SchemaVersion,
		s.CreatedAt,
	)
	return err
}

func queryGetSnapshot(ctx context.Context, db executor, partitionID, projectionName string) (*model.Snapshot, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE partition_id = $1 AND projection_name = $2`,
		partitionID, projectionName,
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return s, nil
}
