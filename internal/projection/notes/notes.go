// Package notes projects agent.note.* events into a searchable collection
// indexed by category, agent and tag.
package notes

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/projection"
)

const (
	// Name is the snapshot key of the notes projection.
	Name = "notes"
	// SchemaVersion of the serialized State.
	SchemaVersion = 1
	// DefaultRecent is the number of notes listed per category by Summary
	// when no count is given.
	DefaultRecent = 5
)

// Note is one recorded note.
type Note struct {
	EventID        string             `json:"event_id"`
	Sequence       uint64             `json:"sequence"`
	AgentID        string             `json:"agent_id"`
	Category       model.NoteCategory `json:"category"`
	Title          string             `json:"title"`
	Content        string             `json:"content"`
	Tags           []string           `json:"tags"`
	RelatedFile    string             `json:"related_file,omitempty"`
	RelatedFeature string             `json:"related_feature,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

func (n *Note) clone() Note {
	v := *n
	v.Tags = slices.Clone(n.Tags)
	return v
}

// State is the materialized note collection. Index values are positions in
// Notes, kept in insertion order.
type State struct {
	Notes      []*Note                      `json:"notes"`
	ByCategory map[model.NoteCategory][]int `json:"-"`
	ByAgent    map[string][]int             `json:"-"`
	ByTag      map[string][]int             `json:"-"`
}

func newState() State {
	return State{
		Notes:      []*Note{},
		ByCategory: make(map[model.NoteCategory][]int),
		ByAgent:    make(map[string][]int),
		ByTag:      make(map[string][]int),
	}
}

func (s *State) index(pos int) {
	n := s.Notes[pos]
	s.ByCategory[n.Category] = append(s.ByCategory[n.Category], pos)
	s.ByAgent[n.AgentID] = append(s.ByAgent[n.AgentID], pos)
	for _, tag := range n.Tags {
		s.ByTag[tag] = append(s.ByTag[tag], pos)
	}
}

// Builder rebuilds the notes of one partition.
type Builder struct {
	state State
}

var _ projection.Builder = (*Builder)(nil)

// New returns an empty notes builder.
func New() *Builder {
	return &Builder{state: newState()}
}

// Factory adapts New to projection.Factory.
func Factory() projection.Builder { return New() }

func (b *Builder) Name() string       { return Name }
func (b *Builder) SchemaVersion() int { return SchemaVersion }
func (b *Builder) Reset()             { b.state = newState() }

// Handles reports whether t is one of the note types.
func (b *Builder) Handles(t model.EventType) bool {
	return t.IsNote()
}

// Apply appends the note carried by e and indexes it.
func (b *Builder) Apply(e *model.Event) error {
	payload, err := e.Decode()
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case model.Note:
		tags := slices.Clone(p.Tags)
		if tags == nil {
			tags = []string{}
		}
		b.state.Notes = append(b.state.Notes, &Note{
			EventID:        e.ID,
			Sequence:       e.Sequence,
			AgentID:        p.AgentID,
			Category:       e.Type.NoteCategory(),
			Title:          p.Title,
			Content:        p.Content,
			Tags:           tags,
			RelatedFile:    p.RelatedFile,
			RelatedFeature: p.RelatedFeature,
			CreatedAt:      e.Timestamp,
		})
		b.state.index(len(b.state.Notes) - 1)
	case model.MessageSent, model.MessageAcknowledged, model.MessageCompleted:
		return fmt.Errorf("notes: unexpected event type %q", e.Type)
	default:
		return fmt.Errorf("notes: unhandled payload %T", payload)
	}
	return nil
}

// Snapshot serializes the notes. Indexes are rebuilt on Restore.
func (b *Builder) Snapshot() ([]byte, error) {
	return projection.EncodeState(Name, SchemaVersion, b.state)
}

// Restore replaces the state with a decoded snapshot.
func (b *Builder) Restore(blob []byte, schemaVersion int) error {
	var decoded State
	if err := projection.DecodeState(blob, Name, SchemaVersion, schemaVersion, &decoded); err != nil {
		return err
	}
	s := newState()
	for _, n := range decoded.Notes {
		if n == nil {
			return fmt.Errorf("%w: notes: null entry", projection.ErrSnapshotIncompatible)
		}
		if n.Tags == nil {
			n.Tags = []string{}
		}
		s.Notes = append(s.Notes, n)
		s.index(len(s.Notes) - 1)
	}
	b.state = s
	return nil
}

// Len returns the number of notes.
func (b *Builder) Len() int {
	return len(b.state.Notes)
}

// Notes returns every note in insertion order.
func (b *Builder) Notes() []Note {
	out := make([]Note, 0, len(b.state.Notes))
	for _, n := range b.state.Notes {
		out = append(out, n.clone())
	}
	return out
}

// ByTag returns the notes carrying tag, in insertion order.
func (b *Builder) ByTag(tag string) []Note {
	return b.collect(b.state.ByTag[tag])
}

// Tags returns every tag in use, sorted.
func (b *Builder) Tags() []string {
	tags := make([]string, 0, len(b.state.ByTag))
	for tag := range b.state.ByTag {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Search yields notes whose title or content contains query, ignoring
// case, in insertion order. The sequence is evaluated lazily and can be
// ranged over more than once.
func (b *Builder) Search(query string) iter.Seq[Note] {
	needle := strings.ToLower(query)
	notes := b.state.Notes
	return func(yield func(Note) bool) {
		for _, n := range notes {
			if !strings.Contains(strings.ToLower(n.Title), needle) &&
				!strings.Contains(strings.ToLower(n.Content), needle) {
				continue
			}
			if !yield(n.clone()) {
				return
			}
		}
	}
}

// Filter selects notes by category, agent and tags. Empty criteria match
// everything; every listed tag must be present.
type Filter struct {
	Category model.NoteCategory
	Agent    string
	Tags     []string
}

// Filter returns the notes matching every set criterion, in insertion order.
func (b *Builder) Filter(f Filter) []Note {
	var lists [][]int
	if f.Category != "" {
		lists = append(lists, b.state.ByCategory[f.Category])
	}
	if f.Agent != "" {
		lists = append(lists, b.state.ByAgent[f.Agent])
	}
	for _, tag := range f.Tags {
		lists = append(lists, b.state.ByTag[tag])
	}
	if len(lists) == 0 {
		return b.Notes()
	}
	return b.collect(intersect(lists))
}

// CategorySummary describes the notes of one category.
type CategorySummary struct {
	Count  int    `json:"count"`
	Recent []Note `json:"recent"`
}

// Summary reports, for every category, how many notes exist and the recent
// most recently recorded ones, newest first. recent <= 0 uses DefaultRecent.
func (b *Builder) Summary(recent int) map[model.NoteCategory]CategorySummary {
	if recent <= 0 {
		recent = DefaultRecent
	}
	out := make(map[model.NoteCategory]CategorySummary, len(model.NoteCategories()))
	for _, c := range model.NoteCategories() {
		positions := b.state.ByCategory[c]
		sum := CategorySummary{Count: len(positions), Recent: []Note{}}
		for i := len(positions) - 1; i >= 0 && len(sum.Recent) < recent; i-- {
			sum.Recent = append(sum.Recent, b.state.Notes[positions[i]].clone())
		}
		out[c] = sum
	}
	return out
}

func (b *Builder) collect(positions []int) []Note {
	out := make([]Note, 0, len(positions))
	for _, pos := range positions {
		out = append(out, b.state.Notes[pos].clone())
	}
	return out
}

// intersect merges ascending position lists, keeping positions present in
// all of them.
func intersect(lists [][]int) []int {
	result := lists[0]
	for _, next := range lists[1:] {
		merged := []int{}
		i, j := 0, 0
		for i < len(result) && j < len(next) {
			switch {
			case result[i] == next[j]:
				merged = append(merged, result[i])
				i++
				j++
			case result[i] < next[j]:
				i++
			default:
				j++
			}
		}
		result = merged
	}
	return result
}
