package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var (
		e       model.Event
		seq     int64
		typ     string
		payload []byte
	)
	if err := row.Scan(&e.PartitionID, &seq, &e.ID, &typ, &payload, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Sequence = uint64(seq)
	e.Type = model.EventType(typ)
	e.Payload = json.RawMessage(payload)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// scanEvents scans every remaining row of rows.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	events := []*model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanSnapshot scans a single row into a model.Snapshot.
// The row must contain columns in the order defined by snapshotColumns.
func scanSnapshot(row scannable) (*model.Snapshot, error) {
	var (
		s    model.Snapshot
		upto int64
	)
	if err := row.Scan(&s.PartitionID, &s.ProjectionName, &upto, &s.State, &s.SchemaVersion, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.SequenceUpto = uint64(upto)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
