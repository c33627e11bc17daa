// Package events fans committed log events out to NATS so that processes
// other than the writer can follow a partition.
package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

// SubjectPrefix prefixes every subject published by agentlog.
const SubjectPrefix = "agentlog"

// Subject returns the NATS subject for an event:
// agentlog.<partition>.<event type>. Characters NATS treats as separators
// or wildcards are replaced in the partition token.
func Subject(partitionID string, t model.EventType) string {
	return SubjectPrefix + "." + subjectToken(partitionID) + "." + string(t)
}

// PartitionSubject matches every event of one partition.
func PartitionSubject(partitionID string) string {
	return SubjectPrefix + "." + subjectToken(partitionID) + ".>"
}

// AllSubjects matches every agentlog event.
const AllSubjects = SubjectPrefix + ".>"

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
