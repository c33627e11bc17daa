// Package store defines the persistence interface for the event log and
// projection snapshots.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventFilter bounds a range scan over one partition's log.
// Events with AfterSeq < Sequence (and Sequence <= UntilSeq when UntilSeq is
// non-zero) are returned in ascending order, at most Limit of them when
// Limit is positive.
type EventFilter struct {
	AfterSeq uint64
	UntilSeq uint64
	Limit    int
}

// Store is implemented by every storage backend.
type Store interface {
	// AppendEvent assigns the next sequence of event.PartitionID and
	// persists the event in one transaction. On success event.Sequence
	// holds the committed sequence. A missing Timestamp is set to now.
	AppendEvent(ctx context.Context, event *model.Event) error

	// ListEvents returns committed events of a partition in ascending
	// sequence order. An unknown partition yields an empty slice.
	ListEvents(ctx context.Context, partitionID string, filter EventFilter) ([]*model.Event, error)

	// LastSequence returns the highest committed sequence, 0 if none.
	LastSequence(ctx context.Context, partitionID string) (uint64, error)

	// ListPartitions returns every partition with at least one event, sorted.
	ListPartitions(ctx context.Context) ([]string, error)

	// PutSnapshot replaces the snapshot stored for
	// (snapshot.PartitionID, snapshot.ProjectionName).
	PutSnapshot(ctx context.Context, snapshot *model.Snapshot) error

	// GetSnapshot returns ErrNotFound when no snapshot is stored.
	GetSnapshot(ctx context.Context, partitionID, projectionName string) (*model.Snapshot, error)

	Close() error
}
