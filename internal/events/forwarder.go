package events

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/model"
)

// Source is the part of eventstore.Store a Forwarder subscribes to.
type Source interface {
	Subscribe(partitionID string, fn eventstore.Callback) eventstore.Subscription
	Unsubscribe(sub eventstore.Subscription) bool
}

// Forwarder publishes every committed event of a Source to its Subject.
type Forwarder struct {
	source Source
	pub    Publisher
	logger *slog.Logger
	sub    eventstore.Subscription
}

// NewForwarder subscribes to every partition of source and starts
// forwarding to pub. Call Stop to detach.
func NewForwarder(source Source, pub Publisher, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{source: source, pub: pub, logger: logger}
	f.sub = source.Subscribe(eventstore.AllPartitions, f.forward)
	return f
}

func (f *Forwarder) forward(ctx context.Context, e *model.Event) error {
	subject := Subject(e.PartitionID, e.Type)
	if err := f.pub.Publish(ctx, subject, e); err != nil {
		f.logger.Warn("failed to publish event", "subject", subject, "sequence", e.Sequence, "error", err)
		return err
	}
	return nil
}

// Stop unsubscribes from the source. The publisher is left open.
func (f *Forwarder) Stop() {
	f.source.Unsubscribe(f.sub)
}
