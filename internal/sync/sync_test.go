package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/store/memory"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	d.last.Store(append([]byte(nil), data...))
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestSchedulerStartStop(t *testing.T) {
	s := memory.New()
	appendNotes(t, s, "work-1", 2)
	dest := &mockDestination{}

	sched := NewScheduler(s, []Destination{dest}, 50*time.Millisecond, testLogger())
	sched.Start()
	// Wait for at least the initial sync + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}
	data, ok := dest.last.Load().([]byte)
	if !ok {
		t.Fatal("expected data")
	}
	if lines := nonEmptyLines(string(data)); len(lines) != 3 {
		t.Fatalf("expected 3 lines (header + 2 events), got %d", len(lines))
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(memory.New(), nil, time.Minute, testLogger())
	sched.Stop()
}

func TestSyncOnce_FailingDestination(t *testing.T) {
	bad := &mockDestination{err: errors.New("bucket missing")}
	good := &mockDestination{}
	sched := NewScheduler(memory.New(), []Destination{bad, good}, time.Minute, testLogger())

	err := sched.SyncOnce(context.Background())
	if err == nil || err.Error() != "bucket missing" {
		t.Errorf("SyncOnce err = %v", err)
	}
	if good.writes.Load() != 1 {
		t.Error("healthy destination skipped after a failure")
	}
}

func TestFileDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agentlog.jsonl")
	dest := NewFileDestination(path)
	ctx := context.Background()

	for _, data := range []string{"first\n", "second\n"} {
		if err := dest.Write(ctx, []byte(data)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil || string(got) != data {
			t.Fatalf("file = %q, %v; want %q", got, err, data)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestFileDestination_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dest := NewFileDestination(filepath.Join(t.TempDir(), "x.jsonl"))
	if err := dest.Write(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
