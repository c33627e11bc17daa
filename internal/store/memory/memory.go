// Package memory provides an in-process store.Store. It keeps the same
// ordering and snapshot-replacement guarantees as the SQL backends and is
// used for embedding and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

type snapshotKey struct {
	partition  string
	projection string
}

// Store is a mutex-guarded in-memory event log.
type Store struct {
	mu        sync.RWMutex
	logs      map[string][]*model.Event
	snapshots map[snapshotKey]*model.Snapshot

	// failAppend, when set, makes AppendEvent fail without committing.
	failAppend func(*model.Event) error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		logs:      make(map[string][]*model.Event),
		snapshots: make(map[snapshotKey]*model.Snapshot),
	}
}

// FailAppendWith installs a hook that can reject appends, simulating a
// storage failure. Pass nil to clear it.
func (s *Store) FailAppendWith(fn func(*model.Event) error) {
	s.mu.Lock()
	s.failAppend = fn
	s.mu.Unlock()
}

func (s *Store) AppendEvent(ctx context.Context, event *model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		if err := s.failAppend(event); err != nil {
			return err
		}
	}
	log := s.logs[event.PartitionID]
	committed := *event
	committed.Sequence = uint64(len(log)) + 1
	committed.Payload = append([]byte(nil), event.Payload...)
	s.logs[event.PartitionID] = append(log, &committed)
	event.Sequence = committed.Sequence
	return nil
}

func (s *Store) ListEvents(ctx context.Context, partitionID string, filter store.EventFilter) ([]*model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[partitionID]
	out := []*model.Event{}
	// Sequence n lives at index n-1.
	for i := int(min(filter.AfterSeq, uint64(len(log)))); i < len(log); i++ {
		e := log[i]
		if filter.UntilSeq > 0 && e.Sequence > filter.UntilSeq {
			break
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LastSequence(_ context.Context, partitionID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.logs[partitionID])), nil
}

func (s *Store) ListPartitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.logs))
	for id, log := range s.logs {
		if len(log) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) PutSnapshot(_ context.Context, snapshot *model.Snapshot) error {
	cp := *snapshot
	cp.State = append([]byte(nil), snapshot.State...)
	s.mu.Lock()
	s.snapshots[snapshotKey{snapshot.PartitionID, snapshot.ProjectionName}] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) GetSnapshot(_ context.Context, partitionID, projectionName string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey{partitionID, projectionName}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *snap
	cp.State = append([]byte(nil), snap.State...)
	return &cp, nil
}

// SnapshotCount returns how many snapshot rows are stored for a partition.
func (s *Store) SnapshotCount(partitionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.snapshots {
		if k.partition == partitionID {
			n++
		}
	}
	return n
}

func (s *Store) Close() error {
	return nil
}
