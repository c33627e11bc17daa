package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection"
	"github.com/alfredjeanlab/agentlog/internal/projection/mailbox"
	"github.com/alfredjeanlab/agentlog/internal/projection/notes"
	"github.com/alfredjeanlab/agentlog/internal/store/memory"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *memory.Store, *syncBuffer) {
	t.Helper()
	backend := memory.New()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(backend, append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s, backend, logs
}

func sent(from, to, corr string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"from_agent":%q,"to_agent":%q,"content":"hi","correlation_id":%q,"awaiting_response":true,"message_type":"request"}`,
		from, to, corr))
}

func ack(by, corr string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"correlation_id":%q,"from_agent":%q,"acknowledged_at":"2026-05-01T09:00:00Z"}`, corr, by))
}

func note(agent, title string, tags ...string) json.RawMessage {
	raw, _ := json.Marshal(model.Note{AgentID: agent, Title: title, Content: "body", Tags: tags})
	return raw
}

func mustAppend(t *testing.T, s *Store, partition string, typ model.EventType, payload json.RawMessage) *model.Event {
	t.Helper()
	e, err := s.Append(context.Background(), partition, typ, payload)
	if err != nil {
		t.Fatalf("Append(%s): %v", typ, err)
	}
	return e
}

// appendMixed writes n events cycling through sends, acks and notes.
func appendMixed(t *testing.T, s *Store, partition string, n int) {
	t.Helper()
	cats := model.NoteCategories()
	for i := 0; i < n; i++ {
		corr := fmt.Sprintf("c%d", i/3)
		switch i % 3 {
		case 0:
			mustAppend(t, s, partition, model.TypeMessageSent, sent("A", "B", corr))
		case 1:
			mustAppend(t, s, partition, model.TypeMessageAcknowledged, ack("B", corr))
		case 2:
			mustAppend(t, s, partition, model.NoteType(cats[i%len(cats)]), note("A", fmt.Sprintf("n%d", i), "x"))
		}
	}
}

func TestAppend(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s, _, _ := newTestStore(t, withClock(func() time.Time { return fixed }))

	e := mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	if e.Sequence != 1 || e.PartitionID != "work-1" || e.Type != model.TypeMessageSent {
		t.Errorf("event = %+v", e)
	}
	if !strings.HasPrefix(e.ID, "ev-") {
		t.Errorf("ID = %q, want ev- prefix", e.ID)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, fixed)
	}
	// The stored payload is the canonical encoding, with priority defaulted.
	p, err := e.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if p.(model.MessageSent).Priority != model.PriorityNormal {
		t.Errorf("priority = %q, want normal", p.(model.MessageSent).Priority)
	}

	e2 := mustAppend(t, s, "work-1", model.TypeMessageAcknowledged, ack("B", "c1"))
	if e2.Sequence != 2 {
		t.Errorf("second Sequence = %d, want 2", e2.Sequence)
	}
	other := mustAppend(t, s, "work-2", model.TypeMessageSent, sent("A", "B", "c9"))
	if other.Sequence != 1 {
		t.Errorf("independent partition Sequence = %d, want 1", other.Sequence)
	}
}

func TestAppend_Concurrent(t *testing.T) {
	s, _, _ := newTestStore(t)
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	seqs := make(chan uint64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				e, err := s.Append(context.Background(), "work-1", model.TypeMessageSent, sent("A", "B", fmt.Sprintf("c%d-%d", w, i)))
				if err != nil {
					t.Error(err)
					return
				}
				seqs <- e.Sequence
			}
		}(w)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("sequence %d assigned twice", seq)
		}
		seen[seq] = true
	}
	for seq := uint64(1); seq <= writers*perWriter; seq++ {
		if !seen[seq] {
			t.Errorf("sequence %d missing", seq)
		}
	}
	if n := s.locks.len(); n != 0 {
		t.Errorf("%d partition locks left behind", n)
	}
}

func TestAppend_ValidationBeforePersistence(t *testing.T) {
	s, backend, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		partition string
		typ       model.EventType
		payload   string
		field     string
	}{
		{"unknown type", "work-1", "agent.message.deleted", `{}`, "type"},
		{"malformed", "work-1", model.TypeMessageSent, `{"from_agent":`, "payload"},
		{"missing field", "work-1", model.TypeMessageSent, `{"from_agent":"A","content":"x","correlation_id":"c"}`, "to_agent"},
		{"bad priority", "work-1", model.TypeMessageSent, `{"from_agent":"A","to_agent":"B","content":"x","correlation_id":"c","priority":"meh"}`, "priority"},
		{"empty partition", " ", model.TypeNoteTodo, `{"agent_id":"A","title":"t"}`, "partition_id"},
		{"wildcard partition", AllPartitions, model.TypeNoteTodo, `{"agent_id":"A","title":"t"}`, "partition_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Append(ctx, tt.partition, tt.typ, json.RawMessage(tt.payload))
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			found := false
			for _, fe := range ve.Errors {
				found = found || fe.Field == tt.field
			}
			if !found {
				t.Errorf("errors = %v, want field %q", ve.Errors, tt.field)
			}
		})
	}
	if parts, _ := backend.ListPartitions(ctx); len(parts) != 0 {
		t.Errorf("invalid appends persisted into %v", parts)
	}
}

func TestAppend_StorageFailure(t *testing.T) {
	s, backend, _ := newTestStore(t)
	ctx := context.Background()
	diskFull := errors.New("disk full")
	backend.FailAppendWith(func(*model.Event) error { return diskFull })

	notified := false
	s.Subscribe("work-1", func(context.Context, *model.Event) error {
		notified = true
		return nil
	})

	_, err := s.Append(ctx, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	if !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want disk full", err)
	}
	if notified {
		t.Error("subscriber notified of a failed append")
	}
	if last, _ := s.LastSequence(ctx, "work-1"); last != 0 {
		t.Errorf("LastSequence = %d after failed append", last)
	}

	backend.FailAppendWith(nil)
	if e := mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1")); e.Sequence != 1 {
		t.Errorf("Sequence after recovery = %d, want 1", e.Sequence)
	}
}

func TestEvents(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	appendMixed(t, s, "work-1", 6)

	all, err := s.Events(ctx, "work-1", 0)
	if err != nil || len(all) != 6 {
		t.Fatalf("Events = %d, %v", len(all), err)
	}
	tail, _ := s.Events(ctx, "work-1", 4)
	if len(tail) != 2 || tail[0].Sequence != 5 {
		t.Errorf("Events(since 4) = %d events starting at %d", len(tail), tail[0].Sequence)
	}
	window, _ := s.EventsRange(ctx, "work-1", 1, 3)
	if len(window) != 2 || window[0].Sequence != 2 || window[1].Sequence != 3 {
		t.Errorf("EventsRange(1, 3) = %v", window)
	}
	if got, _ := s.EventsRange(ctx, "work-1", 3, 3); len(got) != 0 {
		t.Errorf("empty range returned %d events", len(got))
	}
	unknown, err := s.Events(ctx, "nobody", 0)
	if err != nil || unknown == nil || len(unknown) != 0 {
		t.Errorf("unknown partition = %v, %v; want empty slice", unknown, err)
	}
}

func TestSnapshotThreshold(t *testing.T) {
	s, backend, _ := newTestStore(t, WithProjection(mailbox.Factory))
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", fmt.Sprintf("c%d", i)))
	}
	if n := backend.SnapshotCount("work-1"); n != 1 {
		t.Fatalf("%d snapshots after 150 events, want 1", n)
	}
	snap, ok, err := s.Snapshot(ctx, "work-1", mailbox.Name)
	if err != nil || !ok {
		t.Fatalf("Snapshot = %v, %v", ok, err)
	}
	if snap.SequenceUpto != 100 || snap.SchemaVersion != mailbox.SchemaVersion {
		t.Errorf("snapshot at %d (v%d), want 100 (v%d)", snap.SequenceUpto, snap.SchemaVersion, mailbox.SchemaVersion)
	}

	for i := 150; i < 200; i++ {
		mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", fmt.Sprintf("c%d", i)))
	}
	snap, _, _ = s.Snapshot(ctx, "work-1", mailbox.Name)
	if snap.SequenceUpto != 200 {
		t.Errorf("snapshot at %d after 200 events, want 200", snap.SequenceUpto)
	}
	if n := backend.SnapshotCount("work-1"); n != 1 {
		t.Errorf("%d snapshots after 200 events, want 1", n)
	}
}

func TestSnapshotThreshold_DefaultProjections(t *testing.T) {
	s, backend, _ := newTestStore(t, WithSnapshotThreshold(10))
	appendMixed(t, s, "work-1", 10)
	if n := backend.SnapshotCount("work-1"); n != 2 {
		t.Errorf("%d snapshots, want one each for mailbox and notes", n)
	}
}

func TestSnapshotThreshold_SurvivesRestart(t *testing.T) {
	backend := memory.New()
	first := New(backend, WithProjection(mailbox.Factory), WithSnapshotThreshold(10))
	appendMixed(t, first, "work-1", 15)
	_ = first.Close()

	second := New(backend, WithProjection(mailbox.Factory), WithSnapshotThreshold(10))
	defer second.Close()
	appendMixed(t, second, "work-1", 5)

	snap, ok, _ := second.Snapshot(context.Background(), "work-1", mailbox.Name)
	if !ok || snap.SequenceUpto != 20 {
		t.Errorf("snapshot after restart = %+v, want sequence 20", snap)
	}
}

// flakySnapshots rejects the next failures snapshot writes.
type flakySnapshots struct {
	*memory.Store
	failures int
}

func (f *flakySnapshots) PutSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("snapshot write failed")
	}
	return f.Store.PutSnapshot(ctx, snap)
}

func TestSnapshotThreshold_RetriesFailedSave(t *testing.T) {
	backend := &flakySnapshots{Store: memory.New(), failures: 1}
	s := New(backend, WithProjection(mailbox.Factory), WithSnapshotThreshold(10),
		WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))
	defer s.Close()
	ctx := context.Background()

	appendMixed(t, s, "work-1", 15)
	snap, ok, err := s.Snapshot(ctx, "work-1", mailbox.Name)
	if err != nil || !ok {
		t.Fatalf("no snapshot after a failed save and 5 more events (ok=%v, err=%v)", ok, err)
	}
	if snap.SequenceUpto != 11 {
		t.Errorf("snapshot at %d, want the retry at 11", snap.SequenceUpto)
	}

	// The cadence restarts from the successful snapshot.
	appendMixed(t, s, "work-1", 10)
	snap, _, _ = s.Snapshot(ctx, "work-1", mailbox.Name)
	if snap.SequenceUpto != 21 {
		t.Errorf("snapshot at %d, want 21", snap.SequenceUpto)
	}
}

func TestSnapshotThreshold_Disabled(t *testing.T) {
	s, backend, _ := newTestStore(t, WithSnapshotThreshold(0))
	appendMixed(t, s, "work-1", 30)
	if n := backend.SnapshotCount("work-1"); n != 0 {
		t.Errorf("%d snapshots with threshold disabled", n)
	}
}

func fullReplay(t *testing.T, s *Store, partition string, b projection.Builder) []byte {
	t.Helper()
	events, err := s.Events(context.Background(), partition, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := projection.Replay(context.Background(), b, 0, events); err != nil {
		t.Fatal(err)
	}
	blob, err := b.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	return blob
}

func TestRebuild_MatchesFullReplay(t *testing.T) {
	s, _, _ := newTestStore(t, WithSnapshotThreshold(10))
	ctx := context.Background()
	appendMixed(t, s, "work-1", 37)

	snap, ok, _ := s.Snapshot(ctx, "work-1", mailbox.Name)
	if !ok || snap.SequenceUpto != 30 {
		t.Fatalf("expected a mailbox snapshot at 30, got %+v", snap)
	}

	mb, err := s.Mailbox(ctx, "work-1")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := mb.Snapshot()
	if want := fullReplay(t, s, "work-1", mailbox.New()); !bytes.Equal(got, want) {
		t.Error("mailbox rebuilt from snapshot differs from full replay")
	}

	nb, err := s.Notes(ctx, "work-1")
	if err != nil {
		t.Fatal(err)
	}
	got, _ = nb.Snapshot()
	if want := fullReplay(t, s, "work-1", notes.New()); !bytes.Equal(got, want) {
		t.Error("notes rebuilt from snapshot differs from full replay")
	}
}

func TestRebuild_IncompatibleSnapshot(t *testing.T) {
	s, _, logs := newTestStore(t, WithSnapshotThreshold(0))
	ctx := context.Background()
	appendMixed(t, s, "work-1", 9)

	tests := []struct {
		name    string
		version int
		state   []byte
	}{
		{"future schema", mailbox.SchemaVersion + 1, []byte(`{}`)},
		{"corrupt blob", mailbox.SchemaVersion, []byte(`not json`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SaveSnapshot(ctx, "work-1", mailbox.Name, 6, tt.version, tt.state); err != nil {
				t.Fatal(err)
			}
			b := mailbox.New()
			seq, err := s.Rebuild(ctx, "work-1", b)
			if err != nil {
				t.Fatalf("Rebuild: %v", err)
			}
			if seq != 9 {
				t.Errorf("Rebuild reached %d, want 9", seq)
			}
			got, _ := b.Snapshot()
			if want := fullReplay(t, s, "work-1", mailbox.New()); !bytes.Equal(got, want) {
				t.Error("fallback replay differs from full replay")
			}
		})
	}
	if !strings.Contains(logs.String(), "snapshot unusable") {
		t.Errorf("fallback not logged: %s", logs.String())
	}
}

func TestRebuild_WithUntil(t *testing.T) {
	s, _, _ := newTestStore(t, WithSnapshotThreshold(4))
	ctx := context.Background()
	mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c2"))
	mustAppend(t, s, "work-1", model.TypeMessageAcknowledged, ack("B", "c1"))
	mustAppend(t, s, "work-1", model.TypeMessageAcknowledged, ack("B", "c2"))

	// A snapshot exists at 4; bounding at 2 must ignore it.
	mb, err := s.Mailbox(ctx, "work-1", WithUntil(2))
	if err != nil {
		t.Fatal(err)
	}
	if unread := mb.UnreadInbox("B"); len(unread) != 2 {
		t.Errorf("UnreadInbox at 2 = %d, want 2", len(unread))
	}
	mb, _ = s.Mailbox(ctx, "work-1", WithUntil(3))
	if unread := mb.UnreadInbox("B"); len(unread) != 1 || unread[0].CorrelationID != "c2" {
		t.Errorf("UnreadInbox at 3 = %+v, want c2", unread)
	}
}

func TestRebuild_EmptyPartition(t *testing.T) {
	s, _, _ := newTestStore(t)
	b := notes.New()
	seq, err := s.Rebuild(context.Background(), "nobody", b)
	if err != nil || seq != 0 || b.Len() != 0 {
		t.Errorf("Rebuild(empty) = %d, %v, %d notes", seq, err, b.Len())
	}
}

func TestSaveSnapshot_Ahead(t *testing.T) {
	s, _, _ := newTestStore(t)
	mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	err := s.SaveSnapshot(context.Background(), "work-1", mailbox.Name, 2, mailbox.SchemaVersion, []byte(`{}`))
	if !errors.Is(err, ErrSnapshotAhead) {
		t.Errorf("err = %v, want ErrSnapshotAhead", err)
	}
}

func TestCompact(t *testing.T) {
	s, _, _ := newTestStore(t, WithSnapshotThreshold(0))
	ctx := context.Background()
	appendMixed(t, s, "work-1", 7)

	b, ok := s.Projection(notes.Name)
	if !ok {
		t.Fatal("notes projection not registered")
	}
	seq, err := s.Compact(ctx, "work-1", b)
	if err != nil || seq != 7 {
		t.Fatalf("Compact = %d, %v", seq, err)
	}
	snap, ok, _ := s.Snapshot(ctx, "work-1", notes.Name)
	if !ok || snap.SequenceUpto != 7 {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, ok := s.Projection("unknown"); ok {
		t.Error("unknown projection resolved")
	}
}

func TestSubscribe_RegistrationOrder(t *testing.T) {
	s, _, _ := newTestStore(t)
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) Callback {
		return func(_ context.Context, e *model.Event) error {
			mu.Lock()
			calls = append(calls, fmt.Sprintf("%s:%s:%d", name, e.PartitionID, e.Sequence))
			mu.Unlock()
			return nil
		}
	}
	s.Subscribe("work-1", record("first"))
	s.Subscribe(AllPartitions, record("all"))
	s.Subscribe("work-1", record("second"))
	s.Subscribe("work-2", record("other"))

	mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	mustAppend(t, s, "work-2", model.TypeMessageSent, sent("A", "B", "c2"))

	want := []string{"first:work-1:1", "all:work-1:1", "second:work-1:1", "all:work-2:1", "other:work-2:1"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestSubscribe_FailuresIsolated(t *testing.T) {
	s, _, logs := newTestStore(t)
	reached := 0
	s.Subscribe("work-1", func(context.Context, *model.Event) error { panic("boom") })
	s.Subscribe("work-1", func(context.Context, *model.Event) error { return errors.New("refused") })
	s.Subscribe("work-1", func(context.Context, *model.Event) error {
		reached++
		return nil
	})

	e, err := s.Append(context.Background(), "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	if err != nil || e.Sequence != 1 {
		t.Fatalf("Append = %v, %v", e, err)
	}
	if reached != 1 {
		t.Errorf("healthy subscriber reached %d times, want 1", reached)
	}
	out := logs.String()
	if !strings.Contains(out, "panic: boom") || !strings.Contains(out, "refused") {
		t.Errorf("subscriber failures not logged: %s", out)
	}
}

func TestSubscribe_SlowBounded(t *testing.T) {
	s, _, _ := newTestStore(t, WithSubscriberBudget(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	s.Subscribe("work-1", func(ctx context.Context, _ *model.Event) error {
		<-release
		return nil
	})
	after := make(chan struct{}, 1)
	s.Subscribe("work-1", func(context.Context, *model.Event) error {
		after <- struct{}{}
		return nil
	})

	start := time.Now()
	if _, err := s.Append(context.Background(), "work-1", model.TypeMessageSent, sent("A", "B", "c1")); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Append blocked %v behind a slow subscriber", elapsed)
	}
	select {
	case <-after:
	default:
		t.Error("subscriber after the slow one was not called")
	}
}

func TestRegistryCall_Errors(t *testing.T) {
	r := newRegistry(10*time.Millisecond, slog.Default())
	e := &model.Event{PartitionID: "work-1", Sequence: 3}

	err := r.call(subscriber{id: 7, fn: func(ctx context.Context, _ *model.Event) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	}}, e)
	if err == nil || !errors.Is(err, ErrSubscriberTimeout) {
		t.Errorf("slow subscriber err = %v, want timeout", err)
	}
	if err != nil && (err.Subscriber != 7 || err.Sequence != 3) {
		t.Errorf("SubscriberError = %+v", err)
	}

	if err := r.call(subscriber{id: 1, fn: func(context.Context, *model.Event) error { return nil }}, e); err != nil {
		t.Errorf("healthy subscriber err = %v", err)
	}
}

func TestSubscribe_ReceivesCopy(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.Subscribe("work-1", func(_ context.Context, e *model.Event) error {
		e.Sequence = 99
		e.Payload[0] = 'X'
		return nil
	})
	e := mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	if e.Sequence != 1 || e.Payload[0] != '{' {
		t.Errorf("subscriber mutated the returned event: %+v", e)
	}
}

func TestUnsubscribe(t *testing.T) {
	s, _, _ := newTestStore(t)
	calls := 0
	sub := s.Subscribe("work-1", func(context.Context, *model.Event) error {
		calls++
		return nil
	})
	mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c1"))
	if !s.Unsubscribe(sub) {
		t.Fatal("Unsubscribe reported not registered")
	}
	if s.Unsubscribe(sub) {
		t.Error("second Unsubscribe reported registered")
	}
	mustAppend(t, s, "work-1", model.TypeMessageSent, sent("A", "B", "c2"))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := s.subs.count("work-1"); n != 0 {
		t.Errorf("%d subscribers left", n)
	}
}

func TestClose(t *testing.T) {
	s, _, _ := newTestStore(t)
	calls := 0
	s.Subscribe("work-1", func(context.Context, *model.Event) error {
		calls++
		return nil
	})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Append(ctx, "work-1", model.TypeMessageSent, sent("A", "B", "c1")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close: %v", err)
	}
	if _, err := s.Events(ctx, "work-1", 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Events after Close: %v", err)
	}
	if sub := s.Subscribe("work-1", func(context.Context, *model.Event) error { return nil }); s.Unsubscribe(sub) {
		t.Error("Subscribe after Close registered a callback")
	}
	if calls != 0 {
		t.Errorf("closed store notified %d times", calls)
	}
}
