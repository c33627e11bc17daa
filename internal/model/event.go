package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies the kind of fact recorded in the log.
// The catalog is closed: only the constants below are accepted on append.
type EventType string

// Message events.
const (
	TypeMessageSent         EventType = "agent.message.sent"
	TypeMessageAcknowledged EventType = "agent.message.acknowledged"
	TypeMessageCompleted    EventType = "agent.message.completed"
)

// Note events, one per category.
const (
	TypeNoteObservation    EventType = "agent.note.observation"
	TypeNoteLearning       EventType = "agent.note.learning"
	TypeNoteDecision       EventType = "agent.note.decision"
	TypeNoteWarning        EventType = "agent.note.warning"
	TypeNoteAccomplishment EventType = "agent.note.accomplishment"
	TypeNoteContext        EventType = "agent.note.context"
	TypeNoteTodo           EventType = "agent.note.todo"
)

const notePrefix = "agent.note."

// EventTypes returns the full catalog in declaration order.
func EventTypes() []EventType {
	return []EventType{
		TypeMessageSent,
		TypeMessageAcknowledged,
		TypeMessageCompleted,
		TypeNoteObservation,
		TypeNoteLearning,
		TypeNoteDecision,
		TypeNoteWarning,
		TypeNoteAccomplishment,
		TypeNoteContext,
		TypeNoteTodo,
	}
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether t belongs to the catalog.
func (t EventType) IsValid() bool {
	switch t {
	case TypeMessageSent, TypeMessageAcknowledged, TypeMessageCompleted:
		return true
	}
	return t.IsNote()
}

// IsMessage reports whether t is one of the agent.message.* types.
func (t EventType) IsMessage() bool {
	switch t {
	case TypeMessageSent, TypeMessageAcknowledged, TypeMessageCompleted:
		return true
	}
	return false
}

// IsNote reports whether t is one of the agent.note.* types.
func (t EventType) IsNote() bool {
	if !strings.HasPrefix(string(t), notePrefix) {
		return false
	}
	return NoteCategory(strings.TrimPrefix(string(t), notePrefix)).IsValid()
}

// NoteCategory returns the category encoded in a note type, or "" for
// non-note types.
func (t EventType) NoteCategory() NoteCategory {
	if !t.IsNote() {
		return ""
	}
	return NoteCategory(strings.TrimPrefix(string(t), notePrefix))
}

// NoteType returns the event type that records a note of category c.
func NoteType(c NoteCategory) EventType {
	return EventType(notePrefix + string(c))
}

// Event is an immutable committed record in a partition's log.
type Event struct {
	ID          string          `json:"id"`
	PartitionID string          `json:"partition_id"`
	Sequence    uint64          `json:"sequence"`
	Type        EventType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Decode returns the typed payload of the event.
func (e *Event) Decode() (Payload, error) {
	return DecodePayload(e.Type, e.Payload)
}
