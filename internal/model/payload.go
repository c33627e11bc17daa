package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority is the urgency of a message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks whether the priority is a known value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityUrgent:
		return true
	}
	return false
}

// NoteCategory classifies a note recorded by an agent.
type NoteCategory string

const (
	CategoryObservation    NoteCategory = "observation"
	CategoryLearning       NoteCategory = "learning"
	CategoryDecision       NoteCategory = "decision"
	CategoryWarning        NoteCategory = "warning"
	CategoryAccomplishment NoteCategory = "accomplishment"
	CategoryContext        NoteCategory = "context"
	CategoryTodo           NoteCategory = "todo"
)

// NoteCategories returns all categories in declaration order.
func NoteCategories() []NoteCategory {
	return []NoteCategory{
		CategoryObservation,
		CategoryLearning,
		CategoryDecision,
		CategoryWarning,
		CategoryAccomplishment,
		CategoryContext,
		CategoryTodo,
	}
}

// String returns the string representation of the category.
func (c NoteCategory) String() string {
	return string(c)
}

// IsValid checks whether the category is a known value.
func (c NoteCategory) IsValid() bool {
	switch c {
	case CategoryObservation, CategoryLearning, CategoryDecision, CategoryWarning,
		CategoryAccomplishment, CategoryContext, CategoryTodo:
		return true
	}
	return false
}

// Payload is the typed body of an event. The set of implementations is
// closed; switch on the concrete type to dispatch.
type Payload interface {
	eventPayload()
}

// MessageSent records a message from one agent to another.
type MessageSent struct {
	FromAgent        string   `json:"from_agent"`
	ToAgent          string   `json:"to_agent"`
	Content          string   `json:"content"`
	Priority         Priority `json:"priority"`
	CorrelationID    string   `json:"correlation_id"`
	AwaitingResponse bool     `json:"awaiting_response"`
	MessageType      string   `json:"message_type"`
}

// MessageAcknowledged records that the recipient has read a message.
type MessageAcknowledged struct {
	CorrelationID  string    `json:"correlation_id"`
	FromAgent      string    `json:"from_agent"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// MessageCompleted records the response to a message that awaited one.
type MessageCompleted struct {
	CorrelationID string `json:"correlation_id"`
	FromAgent     string `json:"from_agent"`
	Result        string `json:"result"`
	Success       bool   `json:"success"`
}

// Note is the payload shared by every agent.note.* type. The category is
// carried by the event type, not the payload.
type Note struct {
	AgentID        string   `json:"agent_id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	RelatedFile    string   `json:"related_file,omitempty"`
	RelatedFeature string   `json:"related_feature,omitempty"`
}

func (MessageSent) eventPayload()         {}
func (MessageAcknowledged) eventPayload() {}
func (MessageCompleted) eventPayload()    {}
func (Note) eventPayload()                {}

// payloadFor returns a zero value of the payload struct for t.
func payloadFor(t EventType) (Payload, bool) {
	switch {
	case t == TypeMessageSent:
		return &MessageSent{}, true
	case t == TypeMessageAcknowledged:
		return &MessageAcknowledged{}, true
	case t == TypeMessageCompleted:
		return &MessageCompleted{}, true
	case t.IsNote():
		return &Note{}, true
	}
	return nil, false
}

// DecodePayload unmarshals raw into the payload type registered for t and
// returns it by value.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	p, ok := payloadFor(t)
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	switch v := p.(type) {
	case *MessageSent:
		return *v, nil
	case *MessageAcknowledged:
		return *v, nil
	case *MessageCompleted:
		return *v, nil
	case *Note:
		return *v, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}

// EncodePayload marshals a typed payload.
func EncodePayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
