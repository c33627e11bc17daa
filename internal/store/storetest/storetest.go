// Package storetest holds behavioural tests shared by every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendAssignsContiguousSequences", func(t *testing.T) { testContiguous(t, newStore(t)) })
	t.Run("EmptyPartition", func(t *testing.T) { testEmptyPartition(t, newStore(t)) })
	t.Run("PartitionsAreIndependent", func(t *testing.T) { testPartitions(t, newStore(t)) })
	t.Run("ListEventsBounds", func(t *testing.T) { testBounds(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrent(t, newStore(t)) })
	t.Run("SnapshotReplace", func(t *testing.T) { testSnapshotReplace(t, newStore(t)) })
	t.Run("SnapshotNotFound", func(t *testing.T) { testSnapshotNotFound(t, newStore(t)) })
	t.Run("PayloadBytesPreserved", func(t *testing.T) { testPayloadBytes(t, newStore(t)) })
}

func event(partition string, n int) *model.Event {
	return &model.Event{
		ID:          fmt.Sprintf("ev-%s-%d", partition, n),
		PartitionID: partition,
		Type:        model.TypeNoteObservation,
		Payload:     []byte(fmt.Sprintf(`{"agent_id":"a","title":"n%d","content":"","tags":[]}`, n)),
	}
}

func mustAppend(t *testing.T, s store.Store, e *model.Event) {
	t.Helper()
	if err := s.AppendEvent(context.Background(), e); err != nil {
		t.Fatalf("AppendEvent(%s): %v", e.ID, err)
	}
}

func assertContiguous(t *testing.T, events []*model.Event, from uint64) {
	t.Helper()
	for i, e := range events {
		if want := from + uint64(i); e.Sequence != want {
			t.Fatalf("events[%d].Sequence = %d, want %d", i, e.Sequence, want)
		}
	}
}

func testContiguous(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		e := event("p", i)
		mustAppend(t, s, e)
		if e.Sequence != uint64(i) {
			t.Fatalf("append %d got sequence %d", i, e.Sequence)
		}
		if e.Timestamp.IsZero() {
			t.Fatalf("append %d left timestamp unset", i)
		}
	}
	events, err := s.ListEvents(ctx, "p", store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 25 {
		t.Fatalf("got %d events, want 25", len(events))
	}
	assertContiguous(t, events, 1)
	if events[3].ID != "ev-p-4" {
		t.Errorf("events[3].ID = %q, want ev-p-4", events[3].ID)
	}
	last, err := s.LastSequence(ctx, "p")
	if err != nil || last != 25 {
		t.Errorf("LastSequence = %d, %v; want 25", last, err)
	}
}

func testEmptyPartition(t *testing.T, s store.Store) {
	ctx := context.Background()
	events, err := s.ListEvents(ctx, "nobody", store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents on unknown partition: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", events)
	}
	last, err := s.LastSequence(ctx, "nobody")
	if err != nil || last != 0 {
		t.Errorf("LastSequence = %d, %v; want 0", last, err)
	}
	ids, err := s.ListPartitions(ctx)
	if err != nil || ids == nil || len(ids) != 0 {
		t.Errorf("ListPartitions = %#v, %v; want empty non-nil slice", ids, err)
	}
}

func testPartitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustAppend(t, s, event("b", 1))
	mustAppend(t, s, event("a", 1))
	mustAppend(t, s, event("b", 2))

	a, _ := s.ListEvents(ctx, "a", store.EventFilter{})
	b, _ := s.ListEvents(ctx, "b", store.EventFilter{})
	if len(a) != 1 || len(b) != 2 {
		t.Fatalf("len(a)=%d len(b)=%d, want 1 and 2", len(a), len(b))
	}
	assertContiguous(t, a, 1)
	assertContiguous(t, b, 1)

	ids, err := s.ListPartitions(ctx)
	if err != nil {
		t.Fatalf("ListPartitions: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ListPartitions = %v, want [a b]", ids)
	}
}

func testBounds(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		mustAppend(t, s, event("p", i))
	}
	for _, tc := range []struct {
		name   string
		filter store.EventFilter
		first  uint64
		count  int
	}{
		{"After", store.EventFilter{AfterSeq: 4}, 5, 6},
		{"Until", store.EventFilter{UntilSeq: 3}, 1, 3},
		{"Window", store.EventFilter{AfterSeq: 2, UntilSeq: 6}, 3, 4},
		{"Limit", store.EventFilter{AfterSeq: 5, Limit: 2}, 6, 2},
		{"PastEnd", store.EventFilter{AfterSeq: 10}, 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			events, err := s.ListEvents(ctx, "p", tc.filter)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			if len(events) != tc.count {
				t.Fatalf("got %d events, want %d", len(events), tc.count)
			}
			if tc.count > 0 {
				assertContiguous(t, events, tc.first)
			}
		})
	}
}

func testConcurrent(t *testing.T, s store.Store) {
	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := s.AppendEvent(context.Background(), event("hot", w*perWriter+i)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append: %v", err)
	}

	events, err := s.ListEvents(context.Background(), "hot", store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Fatalf("got %d events, want %d", len(events), writers*perWriter)
	}
	assertContiguous(t, events, 1)
	seen := make(map[string]bool)
	for _, e := range events {
		if seen[e.ID] {
			t.Fatalf("event %s stored twice", e.ID)
		}
		seen[e.ID] = true
	}
}

func testSnapshotReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &model.Snapshot{
		PartitionID: "p", ProjectionName: "mailbox", SequenceUpto: 100,
		State: []byte(`{"v":1}`), SchemaVersion: 1, CreatedAt: created,
	}
	if err := s.PutSnapshot(ctx, first); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	second := &model.Snapshot{
		PartitionID: "p", ProjectionName: "mailbox", SequenceUpto: 200,
		State: []byte(`{"v":2}`), SchemaVersion: 2, CreatedAt: created.Add(time.Hour),
	}
	if err := s.PutSnapshot(ctx, second); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	other := &model.Snapshot{
		PartitionID: "p", ProjectionName: "notes", SequenceUpto: 5,
		State: []byte(`{}`), SchemaVersion: 1, CreatedAt: created,
	}
	if err := s.PutSnapshot(ctx, other); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}

	got, err := s.GetSnapshot(ctx, "p", "mailbox")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.SequenceUpto != 200 || got.SchemaVersion != 2 || string(got.State) != `{"v":2}` {
		t.Errorf("GetSnapshot = %+v, want the second snapshot", got)
	}
	if !got.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, second.CreatedAt)
	}
	notes, err := s.GetSnapshot(ctx, "p", "notes")
	if err != nil || notes.SequenceUpto != 5 {
		t.Errorf("notes snapshot = %+v, %v", notes, err)
	}
}

func testSnapshotNotFound(t *testing.T, s store.Store) {
	_, err := s.GetSnapshot(context.Background(), "p", "mailbox")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSnapshot err = %v, want store.ErrNotFound", err)
	}
}

// testPayloadBytes checks that the log hands back the exact bytes that were
// appended, including key order and escaped control characters.
func testPayloadBytes(t *testing.T, s store.Store) {
	payload := `{"agent_id":"a","title":"nul \u0000 inside","content":"z before a","tags":["b","a"]}`
	e := event("p", 1)
	e.Payload = []byte(payload)
	mustAppend(t, s, e)

	events, err := s.ListEvents(context.Background(), "p", store.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if got := string(events[0].Payload); got != payload {
		t.Errorf("payload = %s, want %s", got, payload)
	}
}
