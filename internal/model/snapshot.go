package model

import "time"

// Snapshot is the checkpointed state of one projection for one partition.
// Only the latest snapshot per (PartitionID, ProjectionName) is kept.
type Snapshot struct {
	PartitionID    string    `json:"partition_id"`
	ProjectionName string    `json:"projection_name"`
	SequenceUpto   uint64    `json:"sequence_upto"`
	State          []byte    `json:"state"`
	SchemaVersion  int       `json:"schema_version"`
	CreatedAt      time.Time `json:"created_at"`
}
