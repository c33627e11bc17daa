package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

const (
	// sseClientBuffer is the number of events queued per client before
	// further events are dropped.
	sseClientBuffer = 64

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second
)

// sseClient is one connected stream consumer.
type sseClient struct {
	types []string // event type patterns to match (empty = all)
	ch    chan *model.Event
}

func newSSEClient(types []string) *sseClient {
	return &sseClient{types: types, ch: make(chan *model.Event, sseClientBuffer)}
}

// deliver queues e without blocking the writer; a slow client loses events
// and can resume with Last-Event-ID.
func (c *sseClient) deliver(_ context.Context, e *model.Event) error {
	if !c.matchesType(e.Type) {
		return nil
	}
	select {
	case c.ch <- e:
	default:
	}
	return nil
}

// matchesType checks whether the client's type filters match t.
// An empty filter list matches all types.
func (c *sseClient) matchesType(t model.EventType) bool {
	if len(c.types) == 0 {
		return true
	}
	for _, pattern := range c.types {
		if matchTopicPattern(pattern, string(t)) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			// ">" matches one or more remaining segments.
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}

// handleStream handles GET /v1/partitions/{partition}/stream (SSE).
// Clients may filter with ?types=agent.note.>,agent.message.sent and resume
// with Last-Event-ID, the last sequence they saw; missed events are read
// back from the log.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var types []string
	if q := r.URL.Query().Get("types"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	var lastSent uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Last-Event-ID must be a sequence number")
			return
		}
		lastSent = n
	}

	// Subscribe before reading the backlog so nothing committed in between
	// is missed; duplicates are skipped by sequence.
	partition := r.PathValue("partition")
	client := newSSEClient(types)
	sub := s.store.Subscribe(partition, client.deliver)
	defer s.store.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(e *model.Event) {
		if e.Sequence <= lastSent {
			return
		}
		writeSSEEvent(w, e)
		lastSent = e.Sequence
	}

	if lastSent > 0 {
		backlog, err := s.store.Events(r.Context(), partition, lastSent)
		if err != nil {
			s.logger.Warn("stream backlog failed", "partition", partition, "error", err)
		}
		for _, e := range backlog {
			if client.matchesType(e.Type) {
				send(e)
			}
		}
		flusher.Flush()
	}

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-client.ch:
			send(e)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE framing. The id is the
// partition sequence.
func writeSSEEvent(w http.ResponseWriter, e *model.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id:%d\n", e.Sequence)
	fmt.Fprintf(w, "event:%s\n", e.Type)
	fmt.Fprintf(w, "data:%s\n\n", data)
}
