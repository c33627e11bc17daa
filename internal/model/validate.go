package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

func (e *ValidationError) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
	}
}

// ValidatePayload checks raw against the schema of t. On success it returns
// the typed payload together with its canonical encoding, which is what gets
// persisted. Every failure is reported as a *ValidationError.
func ValidatePayload(t EventType, raw json.RawMessage) (Payload, json.RawMessage, error) {
	if !t.IsValid() {
		return nil, nil, &ValidationError{Errors: []FieldError{
			{Field: "type", Message: fmt.Sprintf("unknown event type %q", t)},
		}}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, &ValidationError{Errors: []FieldError{
			{Field: "payload", Message: "is required"},
		}}
	}

	target, _ := payloadFor(t)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, nil, &ValidationError{Errors: []FieldError{
			{Field: "payload", Message: err.Error()},
		}}
	}
	if dec.More() {
		return nil, nil, &ValidationError{Errors: []FieldError{
			{Field: "payload", Message: "trailing data after JSON object"},
		}}
	}

	var (
		ve      ValidationError
		payload Payload
	)
	switch p := target.(type) {
	case *MessageSent:
		ve.required("from_agent", p.FromAgent)
		ve.required("to_agent", p.ToAgent)
		ve.required("content", p.Content)
		ve.required("correlation_id", p.CorrelationID)
		if p.Priority == "" {
			p.Priority = PriorityNormal
		}
		if !p.Priority.IsValid() {
			ve.add("priority", fmt.Sprintf("invalid value %q", p.Priority))
		}
		payload = *p
	case *MessageAcknowledged:
		ve.required("correlation_id", p.CorrelationID)
		ve.required("from_agent", p.FromAgent)
		payload = *p
	case *MessageCompleted:
		ve.required("correlation_id", p.CorrelationID)
		ve.required("from_agent", p.FromAgent)
		payload = *p
	case *Note:
		ve.required("agent_id", p.AgentID)
		ve.required("title", p.Title)
		if len([]rune(p.Title)) > 500 {
			ve.add("title", "must be 500 characters or fewer")
		}
		tags, err := normalizeTags(p.Tags)
		if err != "" {
			ve.add("tags", err)
		}
		p.Tags = tags
		payload = *p
	}

	if ve.HasErrors() {
		return nil, nil, &ve
	}
	canonical, err := EncodePayload(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, canonical, nil
}

// normalizeTags trims each tag and collapses duplicates, keeping the first
// occurrence order. Tags form a set, so order beyond that carries no meaning.
func normalizeTags(tags []string) ([]string, string) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return nil, "must not contain empty values"
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, ""
}
