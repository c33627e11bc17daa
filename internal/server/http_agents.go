package server

import (
	"net/http"
	"time"
)

// handleAgents handles GET /v1/agents.
// ?partition= narrows to agents that wrote to one partition; ?stale= (a
// duration such as 10m) drops agents silent for longer.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.roster == nil {
		writeError(w, http.StatusNotFound, "agent roster disabled")
		return
	}
	var stale time.Duration
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "stale must be a non-negative duration")
			return
		}
		stale = d
	}
	agents := s.roster.Roster(r.URL.Query().Get("partition"), stale)
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}
