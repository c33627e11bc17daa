package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

type appendInput struct {
	Type    model.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleAppend handles POST /v1/partitions/{partition}/events.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var in appendInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	event, err := s.store.Append(r.Context(), r.PathValue("partition"), in.Type, in.Payload)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// handleListEvents handles GET /v1/partitions/{partition}/events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	since, err := queryUint(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := queryUint(r, "until")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	partition := r.PathValue("partition")
	events, err := s.store.EventsRange(r.Context(), partition, since, until)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	last, err := s.store.LastSequence(r.Context(), partition)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":        events,
		"last_sequence": last,
	})
}
