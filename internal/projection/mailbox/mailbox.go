// Package mailbox projects message events into per-agent inboxes and
// outboxes plus the full conversation history.
package mailbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection"
)

const (
	// Name is the snapshot key of the mailbox projection.
	Name = "mailbox"
	// SchemaVersion of the serialized State.
	SchemaVersion = 1
)

// InboxEntry is a message waiting for its recipient.
type InboxEntry struct {
	EventID          string         `json:"event_id"`
	FromAgent        string         `json:"from_agent"`
	Content          string         `json:"content"`
	Priority         model.Priority `json:"priority"`
	CorrelationID    string         `json:"correlation_id"`
	MessageType      string         `json:"message_type,omitempty"`
	AwaitingResponse bool           `json:"awaiting_response"`
	ReceivedAt       time.Time      `json:"received_at"`
	Acknowledged     bool           `json:"acknowledged"`
}

// OutboxEntry is a sent message that still awaits a response.
type OutboxEntry struct {
	EventID       string    `json:"event_id"`
	ToAgent       string    `json:"to_agent"`
	Content       string    `json:"content"`
	CorrelationID string    `json:"correlation_id"`
	SentAt        time.Time `json:"sent_at"`
	Completed     bool      `json:"completed"`
}

// HistoryEntry is one message event that changed the mailbox.
type HistoryEntry struct {
	EventID       string          `json:"event_id"`
	Sequence      uint64          `json:"sequence"`
	Type          model.EventType `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	FromAgent     string          `json:"from_agent"`
	ToAgent       string          `json:"to_agent,omitempty"`
	Content       string          `json:"content,omitempty"`
	Priority      model.Priority  `json:"priority,omitempty"`
	MessageType   string          `json:"message_type,omitempty"`
	Result        string          `json:"result,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// State is the materialized mailbox. It is owned by its Builder.
type State struct {
	Inbox   map[string][]*InboxEntry  `json:"inbox"`
	Outbox  map[string][]*OutboxEntry `json:"outbox"`
	History []*HistoryEntry           `json:"history"`
}

func newState() State {
	return State{
		Inbox:   make(map[string][]*InboxEntry),
		Outbox:  make(map[string][]*OutboxEntry),
		History: []*HistoryEntry{},
	}
}

// Builder rebuilds the mailbox of one partition.
type Builder struct {
	state State
}

var _ projection.Builder = (*Builder)(nil)

// New returns an empty mailbox builder.
func New() *Builder {
	return &Builder{state: newState()}
}

// Factory adapts New to projection.Factory.
func Factory() projection.Builder { return New() }

func (b *Builder) Name() string       { return Name }
func (b *Builder) SchemaVersion() int { return SchemaVersion }
func (b *Builder) Reset()             { b.state = newState() }

// Handles reports whether t is a message event.
func (b *Builder) Handles(t model.EventType) bool {
	return t.IsMessage()
}

// Apply folds one message event into the mailbox.
func (b *Builder) Apply(e *model.Event) error {
	payload, err := e.Decode()
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case model.MessageSent:
		b.applySent(e, p)
	case model.MessageAcknowledged:
		b.applyAcknowledged(e, p)
	case model.MessageCompleted:
		b.applyCompleted(e, p)
	case model.Note:
		return fmt.Errorf("mailbox: unexpected event type %q", e.Type)
	default:
		return fmt.Errorf("mailbox: unhandled payload %T", payload)
	}
	return nil
}

func (b *Builder) applySent(e *model.Event, p model.MessageSent) {
	b.state.History = append(b.state.History, &HistoryEntry{
		EventID:       e.ID,
		Sequence:      e.Sequence,
		Type:          e.Type,
		CorrelationID: p.CorrelationID,
		FromAgent:     p.FromAgent,
		ToAgent:       p.ToAgent,
		Content:       p.Content,
		Priority:      p.Priority,
		MessageType:   p.MessageType,
		Timestamp:     e.Timestamp,
	})
	b.state.Inbox[p.ToAgent] = append(b.state.Inbox[p.ToAgent], &InboxEntry{
		EventID:          e.ID,
		FromAgent:        p.FromAgent,
		Content:          p.Content,
		Priority:         p.Priority,
		CorrelationID:    p.CorrelationID,
		MessageType:      p.MessageType,
		AwaitingResponse: p.AwaitingResponse,
		ReceivedAt:       e.Timestamp,
	})
	if p.AwaitingResponse {
		b.state.Outbox[p.FromAgent] = append(b.state.Outbox[p.FromAgent], &OutboxEntry{
			EventID:       e.ID,
			ToAgent:       p.ToAgent,
			Content:       p.Content,
			CorrelationID: p.CorrelationID,
			SentAt:        e.Timestamp,
		})
	}
}

// applyAcknowledged marks every unread entry of the acknowledging agent that
// carries the correlation id, so a resent message is cleared by the same
// ack. An ack with nothing left to mark is a no-op and records no history.
func (b *Builder) applyAcknowledged(e *model.Event, p model.MessageAcknowledged) {
	marked := false
	for _, entry := range b.state.Inbox[p.FromAgent] {
		if entry.CorrelationID != p.CorrelationID || entry.Acknowledged {
			continue
		}
		entry.Acknowledged = true
		marked = true
	}
	if !marked {
		return
	}
	b.state.History = append(b.state.History, &HistoryEntry{
		EventID:       e.ID,
		Sequence:      e.Sequence,
		Type:          e.Type,
		CorrelationID: p.CorrelationID,
		FromAgent:     p.FromAgent,
		Timestamp:     e.Timestamp,
	})
}

// applyCompleted closes every pending outbox entry for the correlation id.
// The responder is normally the entry's recipient, but the sender closing
// its own request is accepted too. One history entry is recorded per owner
// whose outbox changed.
func (b *Builder) applyCompleted(e *model.Event, p model.MessageCompleted) {
	owners := make([]string, 0, len(b.state.Outbox))
	for owner := range b.state.Outbox {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		entries := b.state.Outbox[owner]
		rest := entries[:0:0]
		for _, entry := range entries {
			if entry.CorrelationID == p.CorrelationID &&
				(entry.ToAgent == p.FromAgent || owner == p.FromAgent) {
				entry.Completed = true
				continue
			}
			rest = append(rest, entry)
		}
		if len(rest) == len(entries) {
			continue
		}
		if len(rest) == 0 {
			delete(b.state.Outbox, owner)
		} else {
			b.state.Outbox[owner] = rest
		}
		success := p.Success
		b.state.History = append(b.state.History, &HistoryEntry{
			EventID:       e.ID,
			Sequence:      e.Sequence,
			Type:          e.Type,
			CorrelationID: p.CorrelationID,
			FromAgent:     p.FromAgent,
			ToAgent:       owner,
			Result:        p.Result,
			Success:       &success,
			Timestamp:     e.Timestamp,
		})
	}
}

// Snapshot serializes the mailbox state.
func (b *Builder) Snapshot() ([]byte, error) {
	return projection.EncodeState(Name, SchemaVersion, b.state)
}

// Restore replaces the state with a decoded snapshot.
func (b *Builder) Restore(blob []byte, schemaVersion int) error {
	var s State
	if err := projection.DecodeState(blob, Name, SchemaVersion, schemaVersion, &s); err != nil {
		return err
	}
	if s.Inbox == nil {
		s.Inbox = make(map[string][]*InboxEntry)
	}
	if s.Outbox == nil {
		s.Outbox = make(map[string][]*OutboxEntry)
	}
	if s.History == nil {
		s.History = []*HistoryEntry{}
	}
	b.state = s
	return nil
}

// State returns a deep copy of the current state.
func (b *Builder) State() State {
	out := newState()
	for agent, entries := range b.state.Inbox {
		cp := make([]*InboxEntry, len(entries))
		for i, e := range entries {
			v := *e
			cp[i] = &v
		}
		out.Inbox[agent] = cp
	}
	for agent, entries := range b.state.Outbox {
		cp := make([]*OutboxEntry, len(entries))
		for i, e := range entries {
			v := *e
			cp[i] = &v
		}
		out.Outbox[agent] = cp
	}
	for _, h := range b.state.History {
		out.History = append(out.History, cloneHistory(h))
	}
	return out
}

// UnreadInbox returns the agent's unacknowledged messages in receipt order.
func (b *Builder) UnreadInbox(agent string) []InboxEntry {
	out := []InboxEntry{}
	for _, e := range b.state.Inbox[agent] {
		if !e.Acknowledged {
			out = append(out, *e)
		}
	}
	return out
}

// Inbox returns every message received by agent, read or not, in receipt order.
func (b *Builder) Inbox(agent string) []InboxEntry {
	out := make([]InboxEntry, 0, len(b.state.Inbox[agent]))
	for _, e := range b.state.Inbox[agent] {
		out = append(out, *e)
	}
	return out
}

// PendingOutbox returns the agent's messages still awaiting a response, in
// send order.
func (b *Builder) PendingOutbox(agent string) []OutboxEntry {
	out := []OutboxEntry{}
	for _, e := range b.state.Outbox[agent] {
		if !e.Completed {
			out = append(out, *e)
		}
	}
	return out
}

// Conversation returns the history entries for a correlation id in order.
func (b *Builder) Conversation(correlationID string) []HistoryEntry {
	out := []HistoryEntry{}
	for _, h := range b.state.History {
		if h.CorrelationID == correlationID {
			out = append(out, *cloneHistory(h))
		}
	}
	return out
}

// History returns the full message history in commit order.
func (b *Builder) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(b.state.History))
	for _, h := range b.state.History {
		out = append(out, *cloneHistory(h))
	}
	return out
}

func cloneHistory(h *HistoryEntry) *HistoryEntry {
	v := *h
	if h.Success != nil {
		s := *h.Success
		v.Success = &s
	}
	return &v
}
