package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// snapshotView is the wire form of a snapshot. State is inlined when it is
// JSON, which holds for every built-in projection.
type snapshotView struct {
	PartitionID    string          `json:"partition_id"`
	ProjectionName string          `json:"projection_name"`
	SequenceUpto   uint64          `json:"sequence_upto"`
	SchemaVersion  int             `json:"schema_version"`
	CreatedAt      time.Time       `json:"created_at"`
	State          json.RawMessage `json:"state,omitempty"`
}

// handleGetSnapshot handles GET /v1/partitions/{partition}/snapshots/{projection}.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.store.Snapshot(r.Context(), r.PathValue("partition"), r.PathValue("projection"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	view := snapshotView{
		PartitionID:    snap.PartitionID,
		ProjectionName: snap.ProjectionName,
		SequenceUpto:   snap.SequenceUpto,
		SchemaVersion:  snap.SchemaVersion,
		CreatedAt:      snap.CreatedAt,
	}
	if r.URL.Query().Get("state") != "false" && json.Valid(snap.State) {
		view.State = snap.State
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCompact handles POST /v1/partitions/{partition}/snapshots/{projection}.
// It snapshots the projection at the current end of the partition.
func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	b, ok := s.store.Projection(r.PathValue("projection"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown projection")
		return
	}
	seq, err := s.store.Compact(r.Context(), r.PathValue("partition"), b)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"projection_name": b.Name(),
		"sequence_upto":   seq,
		"schema_version":  b.SchemaVersion(),
	})
}
