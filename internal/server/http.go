package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/partitions", s.handleListPartitions)
	mux.HandleFunc("POST /v1/partitions/{partition}/events", s.handleAppend)
	mux.HandleFunc("GET /v1/partitions/{partition}/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/partitions/{partition}/inbox/{agent}", s.handleInbox)
	mux.HandleFunc("GET /v1/partitions/{partition}/outbox/{agent}", s.handleOutbox)
	mux.HandleFunc("GET /v1/partitions/{partition}/conversations/{correlation}", s.handleConversation)
	mux.HandleFunc("GET /v1/partitions/{partition}/notes", s.handleNotes)
	mux.HandleFunc("GET /v1/partitions/{partition}/notes/summary", s.handleNotesSummary)
	mux.HandleFunc("GET /v1/partitions/{partition}/snapshots/{projection}", s.handleGetSnapshot)
	mux.HandleFunc("POST /v1/partitions/{partition}/snapshots/{projection}", s.handleCompact)
	mux.HandleFunc("GET /v1/partitions/{partition}/stream", s.handleStream)
	mux.HandleFunc("GET /v1/agents", s.handleAgents)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return RecoveryMiddleware(s.logger, LoggingMiddleware(s.logger, AuthMiddleware(authToken, mux)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListPartitions handles GET /v1/partitions.
func (s *Server) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	partitions, err := s.store.Partitions(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if partitions == nil {
		partitions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"partitions": partitions})
}

// queryUint parses an optional non-negative integer query parameter.
func queryUint(r *http.Request, name string) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type fieldErrorJSON struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeStoreError maps event store errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		fields := make([]fieldErrorJSON, len(ve.Errors))
		for i, fe := range ve.Errors {
			fields[i] = fieldErrorJSON{Field: fe.Field, Message: fe.Message}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "fields": fields})
	case errors.Is(err, eventstore.ErrSnapshotAhead):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, eventstore.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "event store is shutting down")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
