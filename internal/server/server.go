// Package server exposes the agent log over HTTP: appends, event queries,
// rebuilt mailbox and notes views, snapshots, the agent roster and a live
// event stream.
package server

import (
	"log/slog"

	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/presence"
)

// Server serves the HTTP API for one event store.
type Server struct {
	store  *eventstore.Store
	roster *presence.Tracker
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRoster serves GET /v1/agents from t. Without it the route answers 404.
func WithRoster(t *presence.Tracker) Option {
	return func(s *Server) { s.roster = t }
}

// New returns a Server backed by es.
func New(es *eventstore.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: es, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
