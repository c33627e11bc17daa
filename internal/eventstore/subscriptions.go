package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

// AllPartitions subscribes to the events of every partition.
const AllPartitions = "*"

// ErrSubscriberTimeout is wrapped by a SubscriberError when a callback did
// not return within its budget.
var ErrSubscriberTimeout = errors.New("subscriber exceeded its budget")

// Callback is notified of each committed event. The context expires when
// the callback's budget runs out.
type Callback func(ctx context.Context, e *model.Event) error

// Subscription identifies a registered callback.
type Subscription struct {
	id          uint64
	partitionID string
}

// PartitionID returns the partition the subscription listens to.
func (s Subscription) PartitionID() string { return s.partitionID }

// SubscriberError reports a callback that failed, panicked or timed out.
// It is logged and never returned to the writer.
type SubscriberError struct {
	PartitionID string
	Sequence    uint64
	Subscriber  uint64
	Err         error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %d on %s (seq %d): %v", e.Subscriber, e.PartitionID, e.Sequence, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

type subscriber struct {
	id uint64
	fn Callback
}

// registry fans committed events out to callbacks. It belongs to one Store
// and is torn down with it.
type registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
	closed bool

	budget time.Duration
	logger *slog.Logger
}

func newRegistry(budget time.Duration, logger *slog.Logger) *registry {
	return &registry{
		subs:   make(map[string][]subscriber),
		budget: budget,
		logger: logger,
	}
}

func (r *registry) subscribe(partitionID string, fn Callback) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Subscription{}
	}
	r.nextID++
	r.subs[partitionID] = append(r.subs[partitionID], subscriber{id: r.nextID, fn: fn})
	return Subscription{id: r.nextID, partitionID: partitionID}
}

func (r *registry) unsubscribe(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[sub.partitionID]
	for i, s := range list {
		if s.id != sub.id {
			continue
		}
		list = slices.Delete(slices.Clone(list), i, i+1)
		if len(list) == 0 {
			delete(r.subs, sub.partitionID)
		} else {
			r.subs[sub.partitionID] = list
		}
		return true
	}
	return false
}

// matching returns the partition's subscribers and the wildcard ones in
// registration order.
func (r *registry) matching(partitionID string) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	out := make([]subscriber, 0, len(r.subs[partitionID])+len(r.subs[AllPartitions]))
	out = append(out, r.subs[partitionID]...)
	if partitionID != AllPartitions {
		out = append(out, r.subs[AllPartitions]...)
	}
	slices.SortFunc(out, func(a, b subscriber) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// notify calls every matching subscriber in order. Failures are logged.
func (r *registry) notify(e *model.Event) {
	for _, s := range r.matching(e.PartitionID) {
		if err := r.call(s, e); err != nil {
			r.logger.Warn("subscriber failed",
				"partition", e.PartitionID, "sequence", e.Sequence, "subscriber", s.id, "error", err)
		}
	}
}

// call runs one callback on its own goroutine and waits at most the budget.
// A callback that overruns keeps running; its result is discarded.
func (r *registry) call(s subscriber, e *model.Event) *SubscriberError {
	ev := *e
	ev.Payload = append([]byte(nil), e.Payload...)

	ctx, cancel := context.WithTimeout(context.Background(), r.budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- s.fn(ctx, &ev)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ErrSubscriberTimeout
	}
	if err == nil {
		return nil
	}
	return &SubscriberError{PartitionID: e.PartitionID, Sequence: e.Sequence, Subscriber: s.id, Err: err}
}

func (r *registry) close() {
	r.mu.Lock()
	r.closed = true
	r.subs = make(map[string][]subscriber)
	r.mu.Unlock()
}

func (r *registry) count(partitionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[partitionID])
}
