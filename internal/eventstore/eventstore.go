// Package eventstore is the write and read path of the agent log. It
// validates and serializes appends per partition, checkpoints registered
// projections every few events, rebuilds projections from the latest
// snapshot plus the tail of the log, and notifies in-process subscribers
// of each committed event.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/idgen"
	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection"
	"github.com/alfredjeanlab/agentlog/internal/projection/mailbox"
	"github.com/alfredjeanlab/agentlog/internal/projection/notes"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("eventstore: closed")

// ErrSnapshotAhead is returned by SaveSnapshot when the snapshot claims a
// sequence that has not been committed.
var ErrSnapshotAhead = errors.New("eventstore: snapshot is ahead of the log")

type counterKey struct {
	partition  string
	projection string
}

// Store composes a storage backend with projections and subscribers.
type Store struct {
	backend   store.Store
	logger    *slog.Logger
	threshold int
	factories []projection.Factory
	now       func() time.Time

	locks  *partitionLocks
	subs   *registry
	closed atomic.Bool

	// counters holds the number of events committed since each
	// projection's last snapshot. Guarded by mu; only touched while the
	// partition lock is held.
	mu       sync.Mutex
	counters map[counterKey]int
}

// New returns a Store over backend. The caller keeps ownership of backend.
func New(backend store.Store, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.factories) == 0 {
		o.factories = []projection.Factory{mailbox.Factory, notes.Factory}
	}
	return &Store{
		backend:   backend,
		logger:    o.logger,
		threshold: o.threshold,
		factories: o.factories,
		now:       o.now,
		locks:     newPartitionLocks(),
		subs:      newRegistry(o.budget, o.logger),
		counters:  make(map[counterKey]int),
	}
}

// Append validates payload against t, commits it as the next event of the
// partition and returns the committed event. Invalid input fails with a
// *model.ValidationError before anything is written; storage failures are
// returned as is and leave no event behind.
func (s *Store) Append(ctx context.Context, partitionID string, t model.EventType, payload json.RawMessage) (*model.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(partitionID) == "" || partitionID == AllPartitions {
		return nil, &model.ValidationError{Errors: []model.FieldError{
			{Field: "partition_id", Message: "must be a non-empty partition name"},
		}}
	}
	_, canonical, err := model.ValidatePayload(t, payload)
	if err != nil {
		return nil, err
	}
	id, err := idgen.EventID()
	if err != nil {
		return nil, err
	}
	event := &model.Event{
		ID:          id,
		PartitionID: partitionID,
		Type:        t,
		Timestamp:   s.now().UTC(),
		Payload:     canonical,
	}

	unlock := s.locks.lock(partitionID)
	defer unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if err := s.backend.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("append to %s: %w", partitionID, err)
	}
	s.checkpoint(ctx, event.PartitionID, event.Sequence)
	s.subs.notify(event)
	return event, nil
}

// AppendPayload encodes p and appends it as an event of type t.
func (s *Store) AppendPayload(ctx context.Context, partitionID string, t model.EventType, p model.Payload) (*model.Event, error) {
	raw, err := model.EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return s.Append(ctx, partitionID, t, raw)
}

// checkpoint counts the committed event against every registered
// projection and snapshots those that reached the threshold. Failures are
// logged; the event is already committed, and the counter stays at or past
// the threshold so the next append retries.
func (s *Store) checkpoint(ctx context.Context, partitionID string, seq uint64) {
	if s.threshold <= 0 {
		return
	}
	for _, factory := range s.factories {
		b := factory()
		if !s.bump(ctx, partitionID, b.Name(), seq) {
			continue
		}
		if _, err := s.Rebuild(ctx, partitionID, b, WithUntil(seq)); err != nil {
			s.logger.Warn("snapshot rebuild failed", "partition", partitionID, "projection", b.Name(), "sequence", seq, "error", err)
			continue
		}
		if err := s.saveBuilder(ctx, partitionID, b, seq); err != nil {
			s.logger.Warn("snapshot save failed", "partition", partitionID, "projection", b.Name(), "sequence", seq, "error", err)
			continue
		}
		s.resetCounter(partitionID, b.Name())
		s.logger.Debug("snapshot saved", "partition", partitionID, "projection", b.Name(), "sequence", seq)
	}
}

// bump increments the counter for one projection and reports whether it
// has reached the threshold. A counter seen for the first time is seeded
// from the stored snapshot so that restarts keep the cadence.
func (s *Store) bump(ctx context.Context, partitionID, name string, seq uint64) bool {
	key := counterKey{partitionID, name}
	s.mu.Lock()
	n, ok := s.counters[key]
	s.mu.Unlock()

	if !ok {
		var upto uint64
		snap, err := s.backend.GetSnapshot(ctx, partitionID, name)
		switch {
		case err == nil && snap.SequenceUpto < seq:
			upto = snap.SequenceUpto
		case err != nil && !errors.Is(err, store.ErrNotFound):
			s.logger.Warn("snapshot lookup failed", "partition", partitionID, "projection", name, "error", err)
		}
		n = int(seq - 1 - upto)
	}
	n++

	s.mu.Lock()
	s.counters[key] = n
	s.mu.Unlock()
	return n >= s.threshold
}

// resetCounter records that a projection was just snapshotted.
func (s *Store) resetCounter(partitionID, name string) {
	s.mu.Lock()
	s.counters[counterKey{partitionID, name}] = 0
	s.mu.Unlock()
}

// Events returns the partition's events after since, oldest first. An
// unknown partition yields an empty slice.
func (s *Store) Events(ctx context.Context, partitionID string, since uint64) ([]*model.Event, error) {
	return s.EventsRange(ctx, partitionID, since, 0)
}

// EventsRange returns events with since < sequence <= until. until == 0
// means no upper bound.
func (s *Store) EventsRange(ctx context.Context, partitionID string, since, until uint64) ([]*model.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if until > 0 && until <= since {
		return []*model.Event{}, nil
	}
	events, err := s.backend.ListEvents(ctx, partitionID, store.EventFilter{AfterSeq: since, UntilSeq: until})
	if err != nil {
		return nil, fmt.Errorf("list events of %s: %w", partitionID, err)
	}
	return events, nil
}

// LastSequence returns the highest committed sequence of the partition, or
// zero when it is empty.
func (s *Store) LastSequence(ctx context.Context, partitionID string) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.backend.LastSequence(ctx, partitionID)
}

// Partitions lists every partition holding at least one event.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.backend.ListPartitions(ctx)
}

// SaveSnapshot stores state as the current snapshot of a projection,
// replacing any previous one. upto must not exceed the last committed
// sequence.
func (s *Store) SaveSnapshot(ctx context.Context, partitionID, name string, upto uint64, schemaVersion int, state []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	last, err := s.backend.LastSequence(ctx, partitionID)
	if err != nil {
		return fmt.Errorf("last sequence of %s: %w", partitionID, err)
	}
	if upto > last {
		return fmt.Errorf("%w: %s/%s at %d, last committed %d", ErrSnapshotAhead, partitionID, name, upto, last)
	}
	return s.backend.PutSnapshot(ctx, &model.Snapshot{
		PartitionID:    partitionID,
		ProjectionName: name,
		SequenceUpto:   upto,
		State:          state,
		SchemaVersion:  schemaVersion,
		CreatedAt:      s.now().UTC(),
	})
}

// Compact rebuilds b to the current end of the partition and stores it as
// the projection's snapshot. It returns the snapshot sequence.
func (s *Store) Compact(ctx context.Context, partitionID string, b projection.Builder) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	unlock := s.locks.lock(partitionID)
	defer unlock()

	seq, err := s.Rebuild(ctx, partitionID, b)
	if err != nil {
		return 0, err
	}
	if err := s.saveBuilder(ctx, partitionID, b, seq); err != nil {
		return 0, err
	}
	s.resetCounter(partitionID, b.Name())
	return seq, nil
}

func (s *Store) saveBuilder(ctx context.Context, partitionID string, b projection.Builder, seq uint64) error {
	blob, err := b.Snapshot()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", b.Name(), err)
	}
	return s.SaveSnapshot(ctx, partitionID, b.Name(), seq, b.SchemaVersion(), blob)
}

// Snapshot returns the current snapshot of a projection. ok is false when
// none has been taken.
func (s *Store) Snapshot(ctx context.Context, partitionID, name string) (snap *model.Snapshot, ok bool, err error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	snap, err = s.backend.GetSnapshot(ctx, partitionID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get snapshot %s/%s: %w", partitionID, name, err)
	}
	return snap, true, nil
}

// Rebuild brings b up to date with the partition: it restores the latest
// snapshot when b accepts it and replays the events committed after it.
// An incompatible snapshot is logged and b is replayed from the start.
// It returns the sequence b now reflects.
func (s *Store) Rebuild(ctx context.Context, partitionID string, b projection.Builder, opts ...RebuildOption) (uint64, error) {
	var o rebuildOptions
	for _, opt := range opts {
		opt(&o)
	}
	b.Reset()

	var after uint64
	snap, ok, err := s.Snapshot(ctx, partitionID, b.Name())
	if err != nil {
		return 0, err
	}
	if ok && (o.until == 0 || snap.SequenceUpto <= o.until) {
		if err := b.Restore(snap.State, snap.SchemaVersion); err != nil {
			s.logger.Warn("snapshot unusable, replaying from the start",
				"partition", partitionID, "projection", b.Name(), "sequence_upto", snap.SequenceUpto, "error", err)
			b.Reset()
		} else {
			after = snap.SequenceUpto
		}
	}

	events, err := s.EventsRange(ctx, partitionID, after, o.until)
	if err != nil {
		return 0, err
	}
	return projection.Replay(ctx, b, after, events)
}

// Mailbox rebuilds the mailbox of a partition.
func (s *Store) Mailbox(ctx context.Context, partitionID string, opts ...RebuildOption) (*mailbox.Builder, error) {
	b := mailbox.New()
	if _, err := s.Rebuild(ctx, partitionID, b, opts...); err != nil {
		return nil, err
	}
	return b, nil
}

// Notes rebuilds the notes of a partition.
func (s *Store) Notes(ctx context.Context, partitionID string, opts ...RebuildOption) (*notes.Builder, error) {
	b := notes.New()
	if _, err := s.Rebuild(ctx, partitionID, b, opts...); err != nil {
		return nil, err
	}
	return b, nil
}

// Projection returns a fresh builder for a registered projection name.
func (s *Store) Projection(name string) (projection.Builder, bool) {
	for _, f := range s.factories {
		if b := f(); b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Subscribe registers fn for the committed events of a partition, or of
// every partition with AllPartitions. Callbacks run in registration order
// after each commit. Subscribing to a closed Store returns an inert
// Subscription.
func (s *Store) Subscribe(partitionID string, fn Callback) Subscription {
	return s.subs.subscribe(partitionID, fn)
}

// Unsubscribe removes a subscription. It reports whether it was registered.
func (s *Store) Unsubscribe(sub Subscription) bool {
	return s.subs.unsubscribe(sub)
}

// Close drops every subscription and rejects further operations. It does
// not close the backend.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.subs.close()
	return nil
}
