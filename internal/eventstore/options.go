package eventstore

import (
	"log/slog"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/projection"
)

const (
	// DefaultSnapshotThreshold is the number of committed events between
	// automatic snapshots of each projection.
	DefaultSnapshotThreshold = 100
	// DefaultSubscriberBudget bounds how long the writer waits for one
	// subscriber callback.
	DefaultSubscriberBudget = 2 * time.Second
)

// Option configures a Store.
type Option func(*options)

type options struct {
	threshold int
	budget    time.Duration
	logger    *slog.Logger
	factories []projection.Factory
	now       func() time.Time
}

func defaultOptions() options {
	return options{
		threshold: DefaultSnapshotThreshold,
		budget:    DefaultSubscriberBudget,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithSnapshotThreshold sets how many events are committed to a partition
// between automatic snapshots. Zero or negative disables them.
func WithSnapshotThreshold(n int) Option {
	return func(o *options) { o.threshold = n }
}

// WithSubscriberBudget sets the time each subscriber callback is given
// before the writer moves on.
func WithSubscriberBudget(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.budget = d
		}
	}
}

// WithLogger sets the logger for recoverable failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProjection registers a projection for automatic snapshots. When no
// projection is registered the mailbox and notes projections are used.
func WithProjection(f projection.Factory) Option {
	return func(o *options) { o.factories = append(o.factories, f) }
}

// withClock overrides the event timestamp source.
func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// RebuildOption configures a single Rebuild call.
type RebuildOption func(*rebuildOptions)

type rebuildOptions struct {
	until uint64
}

// WithUntil stops replay after sequence seq. Snapshots taken past seq are
// ignored.
func WithUntil(seq uint64) RebuildOption {
	return func(o *rebuildOptions) { o.until = seq }
}
