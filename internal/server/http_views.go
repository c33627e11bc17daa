package server

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection/mailbox"
	"github.com/alfredjeanlab/agentlog/internal/projection/notes"
)

// rebuildOptions reads the optional ?until= bound shared by the view routes.
func rebuildOptions(r *http.Request) ([]eventstore.RebuildOption, error) {
	until, err := queryUint(r, "until")
	if err != nil || until == 0 {
		return nil, err
	}
	return []eventstore.RebuildOption{eventstore.WithUntil(until)}, nil
}

func (s *Server) mailbox(w http.ResponseWriter, r *http.Request) (*mailbox.Builder, bool) {
	opts, err := rebuildOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	mb, err := s.store.Mailbox(r.Context(), r.PathValue("partition"), opts...)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	return mb, true
}

func (s *Server) notes(w http.ResponseWriter, r *http.Request) (*notes.Builder, bool) {
	opts, err := rebuildOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	nb, err := s.store.Notes(r.Context(), r.PathValue("partition"), opts...)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	return nb, true
}

// handleInbox handles GET /v1/partitions/{partition}/inbox/{agent}.
// Only unacknowledged messages are returned unless ?all=true.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	mb, ok := s.mailbox(w, r)
	if !ok {
		return
	}
	agent := r.PathValue("agent")
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	messages := mb.UnreadInbox(agent)
	if all {
		messages = mb.Inbox(agent)
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "messages": messages})
}

// handleOutbox handles GET /v1/partitions/{partition}/outbox/{agent}.
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	mb, ok := s.mailbox(w, r)
	if !ok {
		return
	}
	agent := r.PathValue("agent")
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "pending": mb.PendingOutbox(agent)})
}

// handleConversation handles GET /v1/partitions/{partition}/conversations/{correlation}.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	mb, ok := s.mailbox(w, r)
	if !ok {
		return
	}
	id := r.PathValue("correlation")
	writeJSON(w, http.StatusOK, map[string]any{"correlation_id": id, "history": mb.Conversation(id)})
}

// handleNotes handles GET /v1/partitions/{partition}/notes.
// q searches title and content; category, agent and tag narrow the result.
// tag may be repeated or comma-separated; every tag must match.
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := notes.Filter{
		Category: model.NoteCategory(q.Get("category")),
		Agent:    q.Get("agent"),
	}
	if filter.Category != "" && !filter.Category.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown category "+strconv.Quote(string(filter.Category)))
		return
	}
	for _, v := range q["tag"] {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}

	nb, ok := s.notes(w, r)
	if !ok {
		return
	}

	var result []notes.Note
	switch query := q.Get("q"); {
	case query == "":
		result = nb.Filter(filter)
	case filter.Category == "" && filter.Agent == "" && len(filter.Tags) == 0:
		result = slices.Collect(nb.Search(query))
	default:
		matched := make(map[string]bool)
		for n := range nb.Search(query) {
			matched[n.EventID] = true
		}
		result = []notes.Note{}
		for _, n := range nb.Filter(filter) {
			if matched[n.EventID] {
				result = append(result, n)
			}
		}
	}
	if result == nil {
		result = []notes.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": result, "count": len(result)})
}

// handleNotesSummary handles GET /v1/partitions/{partition}/notes/summary.
func (s *Server) handleNotesSummary(w http.ResponseWriter, r *http.Request) {
	recent := notes.DefaultRecent
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "recent must be a positive integer")
			return
		}
		recent = n
	}
	nb, ok := s.notes(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": nb.Len(), "categories": nb.Summary(recent)})
}
