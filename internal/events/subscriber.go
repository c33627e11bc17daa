package events

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/model"
)

// Subscriber delivers the raw messages published on a subject.
type Subscriber interface {
	Subscribe(subject string) (<-chan []byte, func(), error)
	Close() error
}

// Watch follows the events a Forwarder publishes for partitionID, or for
// every partition with eventstore.AllPartitions, and calls fn with each one
// in arrival order. It returns nil when ctx is done or the subscription
// ends, and fn's error if fn fails. Messages that are not events, or that
// belong to another partition sharing the subject token, are skipped.
func Watch(ctx context.Context, sub Subscriber, partitionID string, fn func(*model.Event) error) error {
	subject := AllSubjects
	if partitionID != eventstore.AllPartitions {
		subject = PartitionSubject(partitionID)
	}
	ch, cancel, err := sub.Subscribe(subject)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var e model.Event
			if err := json.Unmarshal(data, &e); err != nil || e.Sequence == 0 {
				continue
			}
			if partitionID != eventstore.AllPartitions && e.PartitionID != partitionID {
				continue
			}
			if err := fn(&e); err != nil {
				return err
			}
		}
	}
}
