// Package projection defines how derived views are rebuilt from the event
// log and how their state is checkpointed.
//
// A Builder folds events of the types it Handles into private state. Apply
// must depend only on the current state and the event, so that replaying a
// partition from zero and replaying from a snapshot produce the same result.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

// ErrSnapshotIncompatible is returned by Restore when a stored snapshot was
// written by a different schema version or cannot be decoded. Callers
// recover by replaying the partition from the beginning.
var ErrSnapshotIncompatible = errors.New("snapshot incompatible")

// Builder computes one named view of a partition.
type Builder interface {
	// Name identifies the projection in the snapshot store.
	Name() string
	// SchemaVersion is bumped whenever the serialized state changes shape.
	SchemaVersion() int
	// Handles reports whether events of type t affect this projection.
	Handles(t model.EventType) bool
	// Apply folds one handled event into the state.
	Apply(e *model.Event) error
	// Snapshot serializes the current state.
	Snapshot() ([]byte, error)
	// Restore replaces the state with a snapshot written at schemaVersion.
	// It fails with ErrSnapshotIncompatible, never a raw decode error.
	Restore(blob []byte, schemaVersion int) error
	// Reset returns the builder to its empty state.
	Reset()
}

// Factory creates an empty builder.
type Factory func() Builder

// Replay applies events to b in order, skipping types b does not handle.
// It returns the sequence of the last event seen, or after when events is
// empty.
func Replay(ctx context.Context, b Builder, after uint64, events []*model.Event) (uint64, error) {
	last := after
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if e.Sequence <= last {
			return last, fmt.Errorf("replay %s: event sequence %d out of order after %d", b.Name(), e.Sequence, last)
		}
		last = e.Sequence
		if !b.Handles(e.Type) {
			continue
		}
		if err := b.Apply(e); err != nil {
			return last, fmt.Errorf("replay %s: apply seq %d: %w", b.Name(), e.Sequence, err)
		}
	}
	return last, nil
}

// envelope wraps serialized state with the tags needed to detect a
// mismatched or foreign snapshot before decoding the state itself.
type envelope struct {
	Projection    string          `json:"projection"`
	SchemaVersion int             `json:"schema_version"`
	State         json.RawMessage `json:"state"`
}

// EncodeState serializes state inside a tagged envelope.
func EncodeState(name string, schemaVersion int, state any) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode %s state: %w", name, err)
	}
	return json.Marshal(envelope{Projection: name, SchemaVersion: schemaVersion, State: raw})
}

// DecodeState checks that blob was written by projection name at
// wantVersion, as recorded both on the snapshot row (storedVersion) and
// inside the envelope, and decodes the state into dst. Any mismatch or
// decode failure is reported as ErrSnapshotIncompatible.
func DecodeState(blob []byte, name string, wantVersion, storedVersion int, dst any) error {
	if storedVersion != wantVersion {
		return fmt.Errorf("%w: %s stored at schema version %d, want %d", ErrSnapshotIncompatible, name, storedVersion, wantVersion)
	}
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("%w: %s envelope: %v", ErrSnapshotIncompatible, name, err)
	}
	if env.Projection != name {
		return fmt.Errorf("%w: snapshot belongs to %q, not %q", ErrSnapshotIncompatible, env.Projection, name)
	}
	if env.SchemaVersion != wantVersion {
		return fmt.Errorf("%w: %s envelope at schema version %d, want %d", ErrSnapshotIncompatible, name, env.SchemaVersion, wantVersion)
	}
	if err := json.Unmarshal(env.State, dst); err != nil {
		return fmt.Errorf("%w: %s state: %v", ErrSnapshotIncompatible, name, err)
	}
	return nil
}
