// Package presence keeps a roster of the agents writing to the log.
//
// A Tracker is fed committed events, either live as an eventstore
// subscriber or in bulk with Backfill, and records per agent when it was
// last active and where. A background reaper marks agents idle past a
// threshold and later evicts them.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
)

// Entry is one agent's activity as seen in the log.
type Entry struct {
	Agent         string          `json:"agent"`
	Partitions    []string        `json:"partitions"`
	LastPartition string          `json:"last_partition"`
	LastType      model.EventType `json:"last_type"`
	LastSequence  uint64          `json:"last_sequence"`
	FirstSeen     time.Time       `json:"first_seen"`
	LastSeen      time.Time       `json:"last_seen"`
	IdleSecs      float64         `json:"idle_secs"`
	EventCount    int64           `json:"event_count"`
	Idle          bool            `json:"idle,omitempty"`
	IdleSince     time.Time       `json:"idle_since,omitzero"`
}

// ReaperConfig configures the background idle-agent reaper.
type ReaperConfig struct {
	// IdleThreshold is how long an agent must be silent before it is
	// marked idle. Default: 15 minutes.
	IdleThreshold time.Duration

	// EvictAfter is how long an idle agent stays in the roster before it is
	// removed. Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 60 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each agent newly marked idle, outside the lock.
	OnIdle func(agent string)
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.IdleThreshold == 0 {
		c.IdleThreshold = 15 * time.Minute
	}
	if c.EvictAfter == 0 {
		c.EvictAfter = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 60 * time.Second
	}
	return c
}

// Tracker maintains an in-memory roster of agents.
type Tracker struct {
	mu     sync.RWMutex
	agents map[string]*agentState
	logger *slog.Logger
	now    func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type agentState struct {
	partitions    map[string]struct{}
	firstSeen     time.Time
	lastSeen      time.Time
	lastPartition string
	lastType      model.EventType
	lastSeq       uint64
	eventCount    int64
	idle          bool
	idleSince     time.Time
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		agents: make(map[string]*agentState),
		logger: logger,
		now:    time.Now,
	}
}

// Author returns the agent that wrote e: the sender of a message event or
// the author of a note.
func Author(e *model.Event) (string, error) {
	payload, err := e.Decode()
	if err != nil {
		return "", err
	}
	switch p := payload.(type) {
	case model.MessageSent:
		return p.FromAgent, nil
	case model.MessageAcknowledged:
		return p.FromAgent, nil
	case model.MessageCompleted:
		return p.FromAgent, nil
	case model.Note:
		return p.AgentID, nil
	}
	return "", fmt.Errorf("presence: unhandled payload %T", payload)
}

// Observe records e against its author. It has the eventstore.Callback
// signature so a Tracker can subscribe to a store directly.
func (t *Tracker) Observe(_ context.Context, e *model.Event) error {
	agent, err := Author(e)
	if err != nil {
		return err
	}
	if agent == "" {
		return nil
	}
	seen := e.Timestamp
	if seen.IsZero() {
		seen = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.agents[agent]
	if !ok {
		state = &agentState{partitions: make(map[string]struct{}), firstSeen: seen}
		t.agents[agent] = state
	}
	if state.idle {
		t.logger.Info("presence: agent active again", "agent", agent)
		state.idle = false
		state.idleSince = time.Time{}
	}
	state.partitions[e.PartitionID] = struct{}{}
	state.eventCount++
	if seen.Before(state.firstSeen) {
		state.firstSeen = seen
	}
	if !seen.Before(state.lastSeen) {
		state.lastSeen = seen
		state.lastPartition = e.PartitionID
		state.lastType = e.Type
		state.lastSeq = e.Sequence
	}
	return nil
}

// Log is the read side of the event store used by Backfill.
type Log interface {
	Partitions(ctx context.Context) ([]string, error)
	Events(ctx context.Context, partitionID string, since uint64) ([]*model.Event, error)
}

// Backfill observes every committed event of every partition. Subscribe
// the tracker only after Backfill returns, or events are counted twice.
func (t *Tracker) Backfill(ctx context.Context, log Log) error {
	partitions, err := log.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("presence: list partitions: %w", err)
	}
	for _, p := range partitions {
		events, err := log.Events(ctx, p, 0)
		if err != nil {
			return fmt.Errorf("presence: list events of %s: %w", p, err)
		}
		for _, e := range events {
			if err := t.Observe(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Roster returns the tracked agents, most recently active first. When
// partition is non-empty only agents that wrote to it are listed.
// staleThreshold excludes agents silent for longer; 0 includes everyone.
func (t *Tracker) Roster(partition string, staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.agents))
	for agent, s := range t.agents {
		if partition != "" {
			if _, ok := s.partitions[partition]; !ok {
				continue
			}
		}
		idle := now.Sub(s.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		partitions := make([]string, 0, len(s.partitions))
		for p := range s.partitions {
			partitions = append(partitions, p)
		}
		slices.Sort(partitions)

		entries = append(entries, Entry{
			Agent:         agent,
			Partitions:    partitions,
			LastPartition: s.lastPartition,
			LastType:      s.lastType,
			LastSequence:  s.lastSeq,
			FirstSeen:     s.firstSeen,
			LastSeen:      s.lastSeen,
			IdleSecs:      idle.Seconds(),
			EventCount:    s.eventCount,
			Idle:          s.idle,
			IdleSince:     s.idleSince,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].Agent < entries[j].Agent
	})
	return entries
}

// StartReaper launches a background goroutine that periodically marks
// silent agents idle. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg ReaperConfig) {
	cfg = cfg.withDefaults()
	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})
	go t.reapLoop(cfg)
	t.logger.Info("presence: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg ReaperConfig) {
	now := t.now()
	var newlyIdle []string

	t.mu.Lock()
	for agent, s := range t.agents {
		if s.idle {
			if now.Sub(s.idleSince) > cfg.EvictAfter {
				delete(t.agents, agent)
			}
			continue
		}
		if now.Sub(s.lastSeen) > cfg.IdleThreshold {
			s.idle = true
			s.idleSince = now
			newlyIdle = append(newlyIdle, agent)
		}
	}
	t.mu.Unlock()

	sort.Strings(newlyIdle)
	for _, agent := range newlyIdle {
		t.logger.Info("presence: agent marked idle", "agent", agent, "threshold", cfg.IdleThreshold)
		if cfg.OnIdle != nil {
			cfg.OnIdle(agent)
		}
	}
}
