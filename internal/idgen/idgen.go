// Package idgen generates short, URL-safe identifiers for events and
// message correlation, backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// EventPrefix marks identifiers assigned to committed events.
	EventPrefix = "ev-"
	// CorrelationPrefix marks identifiers linking a message to its replies.
	CorrelationPrefix = "c-"
)

// Alphabet is the character set for the random part of every identifier.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters (excluding the prefix).
const Length = 12

// EventID returns a new event identifier.
func EventID() (string, error) {
	return WithPrefix(EventPrefix)
}

// CorrelationID returns a new correlation identifier.
func CorrelationID() (string, error) {
	return WithPrefix(CorrelationPrefix)
}

// WithPrefix returns a new identifier with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
