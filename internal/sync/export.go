package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/store"
)

// exportPageSize is the number of events read per backend query.
const exportPageSize = 500

// Source is the read side of a store.Store needed for export.
type Source interface {
	ListPartitions(ctx context.Context) ([]string, error)
	ListEvents(ctx context.Context, partitionID string, filter store.EventFilter) ([]*model.Event, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	PartitionCount int       `json:"partition_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string       `json:"type"`
	Data *model.Event `json:"data"`
}

// ExportJSONL writes the whole log as JSONL to w: a header line, then every
// event, partitions sorted by name and events in sequence order. It
// returns the number of events written.
func ExportJSONL(ctx context.Context, s Source, w io.Writer) (int, error) {
	partitions, err := s.ListPartitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list partitions: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:        "1",
		Type:           "header",
		Timestamp:      time.Now().UTC(),
		PartitionCount: len(partitions),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	n := 0
	for _, p := range partitions {
		var after uint64
		for {
			page, err := s.ListEvents(ctx, p, store.EventFilter{AfterSeq: after, Limit: exportPageSize})
			if err != nil {
				return n, fmt.Errorf("list events of %s: %w", p, err)
			}
			for _, e := range page {
				if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
					return n, fmt.Errorf("encode event %s: %w", e.ID, err)
				}
				n++
				after = e.Sequence
			}
			if len(page) < exportPageSize {
				break
			}
		}
	}
	return n, nil
}
