package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/model"
	"github.com/alfredjeanlab/agentlog/internal/presence"
	"github.com/alfredjeanlab/agentlog/internal/store/memory"
)

func newTestServer(t *testing.T, opts ...eventstore.Option) (*Server, *eventstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	es := eventstore.New(memory.New(), append([]eventstore.Option{eventstore.WithLogger(logger)}, opts...)...)
	t.Cleanup(func() { _ = es.Close() })
	return New(es, logger), es
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func appendVia(t *testing.T, h http.Handler, partition string, typ model.EventType, payload any) model.Event {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/v1/partitions/"+partition+"/events", map[string]any{
		"type": typ, "payload": payload,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("append %s: status %d: %s", typ, rec.Code, rec.Body.String())
	}
	return decodeJSON[model.Event](t, rec)
}

func sendMsg(from, to, corr string) map[string]any {
	return map[string]any{
		"from_agent": from, "to_agent": to, "content": "please review", "correlation_id": corr,
		"awaiting_response": true, "message_type": "review",
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s.NewHTTPHandler(""), http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestAppendAndListEvents(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.NewHTTPHandler("")

	e := appendVia(t, h, "work-1", model.TypeMessageSent, sendMsg("A", "B", "c1"))
	if e.Sequence != 1 || e.PartitionID != "work-1" || !strings.HasPrefix(e.ID, "ev-") {
		t.Errorf("appended = %+v", e)
	}
	appendVia(t, h, "work-1", model.TypeMessageAcknowledged, map[string]any{"correlation_id": "c1", "from_agent": "B"})
	appendVia(t, h, "work-1", model.TypeNoteTodo, map[string]any{"agent_id": "A", "title": "write docs"})

	rec := doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/events?since=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON[struct {
		Events       []model.Event `json:"events"`
		LastSequence uint64        `json:"last_sequence"`
	}](t, rec)
	if len(got.Events) != 2 || got.Events[0].Sequence != 2 || got.LastSequence != 3 {
		t.Errorf("list = %+v", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/events?since=0&until=1", nil)
	if got := decodeJSON[struct {
		Events []model.Event `json:"events"`
	}](t, rec); len(got.Events) != 1 {
		t.Errorf("bounded list returned %d events", len(got.Events))
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/partitions", nil)
	if !strings.Contains(rec.Body.String(), `"work-1"`) {
		t.Errorf("partitions = %s", rec.Body.String())
	}
}

func TestAppend_Errors(t *testing.T) {
	s, es := newTestServer(t)
	h := s.NewHTTPHandler("")

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown type", `{"type":"agent.message.deleted","payload":{}}`, "type"},
		{"missing fields", `{"type":"agent.message.sent","payload":{"from_agent":"A"}}`, "to_agent"},
		{"no payload", `{"type":"agent.note.todo"}`, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/partitions/work-1/events", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			got := decodeJSON[struct {
				Fields []fieldErrorJSON `json:"fields"`
			}](t, rec)
			found := false
			for _, f := range got.Fields {
				found = found || f.Field == tt.field
			}
			if !found {
				t.Errorf("fields = %+v, want %q", got.Fields, tt.field)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/partitions/work-1/events", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}

	if last, _ := es.LastSequence(context.Background(), "work-1"); last != 0 {
		t.Errorf("rejected appends were persisted (last = %d)", last)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/events?since=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", rec.Code)
	}
}

func TestAppend_Closed(t *testing.T) {
	s, es := newTestServer(t)
	_ = es.Close()
	rec := doRequest(t, s.NewHTTPHandler(""), http.MethodPost, "/v1/partitions/work-1/events", map[string]any{
		"type": model.TypeNoteTodo, "payload": map[string]any{"agent_id": "A", "title": "t"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMailboxRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.NewHTTPHandler("")
	appendVia(t, h, "work-1", model.TypeMessageSent, sendMsg("A", "B", "c1"))
	appendVia(t, h, "work-1", model.TypeMessageSent, sendMsg("A", "B", "c2"))
	appendVia(t, h, "work-1", model.TypeMessageAcknowledged, map[string]any{"correlation_id": "c1", "from_agent": "B"})
	appendVia(t, h, "work-1", model.TypeMessageCompleted, map[string]any{"correlation_id": "c1", "from_agent": "B", "result": "lgtm", "success": true})

	type inbox struct {
		Agent    string `json:"agent"`
		Messages []struct {
			CorrelationID string `json:"correlation_id"`
			Acknowledged  bool   `json:"acknowledged"`
		} `json:"messages"`
	}
	unread := decodeJSON[inbox](t, doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/inbox/B", nil))
	if len(unread.Messages) != 1 || unread.Messages[0].CorrelationID != "c2" {
		t.Errorf("unread inbox = %+v", unread)
	}
	all := decodeJSON[inbox](t, doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/inbox/B?all=true", nil))
	if len(all.Messages) != 2 || !all.Messages[0].Acknowledged {
		t.Errorf("full inbox = %+v", all)
	}
	early := decodeJSON[inbox](t, doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/inbox/B?until=2", nil))
	if len(early.Messages) != 2 {
		t.Errorf("inbox at 2 = %+v", early)
	}

	outbox := decodeJSON[struct {
		Pending []struct {
			CorrelationID string `json:"correlation_id"`
		} `json:"pending"`
	}](t, doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/outbox/A", nil))
	if len(outbox.Pending) != 1 || outbox.Pending[0].CorrelationID != "c2" {
		t.Errorf("outbox = %+v", outbox)
	}

	conv := decodeJSON[struct {
		History []struct {
			Type model.EventType `json:"type"`
		} `json:"history"`
	}](t, doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/conversations/c1", nil))
	if len(conv.History) != 3 || conv.History[2].Type != model.TypeMessageCompleted {
		t.Errorf("conversation = %+v", conv)
	}

	empty := decodeJSON[inbox](t, doRequest(t, h, http.MethodGet, "/v1/partitions/nowhere/inbox/B", nil))
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Errorf("unknown partition inbox = %+v", empty)
	}
}

func TestNotesRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.NewHTTPHandler("")
	appendVia(t, h, "work-1", model.TypeNoteDecision, map[string]any{"agent_id": "A", "title": "Use Postgres", "content": "JSONB fits", "tags": []string{"db", "infra"}})
	appendVia(t, h, "work-1", model.TypeNoteWarning, map[string]any{"agent_id": "B", "title": "Flaky CI", "content": "retry db tests", "tags": []string{"ci", "db"}})
	appendVia(t, h, "work-1", model.TypeNoteDecision, map[string]any{"agent_id": "B", "title": "Adopt slog", "tags": []string{"logging"}})

	type list struct {
		Notes []struct {
			Title string `json:"title"`
		} `json:"notes"`
		Count int `json:"count"`
	}
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Use Postgres", "Flaky CI", "Adopt slog"}},
		{"?q=DB", []string{"Flaky CI"}},
		{"?q=postgres", []string{"Use Postgres"}},
		{"?category=decision", []string{"Use Postgres", "Adopt slog"}},
		{"?agent=B&category=decision", []string{"Adopt slog"}},
		{"?tag=db", []string{"Use Postgres", "Flaky CI"}},
		{"?tag=db,ci", []string{"Flaky CI"}},
		{"?tag=db&tag=infra", []string{"Use Postgres"}},
		{"?q=retry&agent=A", []string{}},
		{"?q=s&category=decision", []string{"Use Postgres", "Adopt slog"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/notes"+tt.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			got := decodeJSON[list](t, rec)
			titles := []string{}
			for _, n := range got.Notes {
				titles = append(titles, n.Title)
			}
			if strings.Join(titles, "|") != strings.Join(tt.want, "|") || got.Count != len(tt.want) {
				t.Errorf("notes%s = %v, want %v", tt.query, titles, tt.want)
			}
		})
	}

	if rec := doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/notes?category=rumor", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d", rec.Code)
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/notes/summary?recent=1", nil)
	sum := decodeJSON[struct {
		Total      int `json:"total"`
		Categories map[string]struct {
			Count  int `json:"count"`
			Recent []struct {
				Title string `json:"title"`
			} `json:"recent"`
		} `json:"categories"`
	}](t, rec)
	if sum.Total != 3 || len(sum.Categories) != len(model.NoteCategories()) {
		t.Fatalf("summary = %+v", sum)
	}
	dec := sum.Categories["decision"]
	if dec.Count != 2 || len(dec.Recent) != 1 || dec.Recent[0].Title != "Adopt slog" {
		t.Errorf("decision summary = %+v", dec)
	}
	if rec := doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/notes/summary?recent=0", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("recent=0 status = %d", rec.Code)
	}
}

func TestSnapshotRoutes(t *testing.T) {
	s, _ := newTestServer(t, eventstore.WithSnapshotThreshold(0))
	h := s.NewHTTPHandler("")

	if rec := doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/snapshots/mailbox", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing snapshot status = %d", rec.Code)
	}

	appendVia(t, h, "work-1", model.TypeMessageSent, sendMsg("A", "B", "c1"))
	appendVia(t, h, "work-1", model.TypeMessageSent, sendMsg("A", "C", "c2"))

	rec := doRequest(t, h, http.MethodPost, "/v1/partitions/work-1/snapshots/mailbox", nil)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"sequence_upto":2`) {
		t.Fatalf("compact = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/snapshots/mailbox", nil)
	view := decodeJSON[snapshotView](t, rec)
	if view.SequenceUpto != 2 || view.ProjectionName != "mailbox" || !json.Valid(view.State) || len(view.State) == 0 {
		t.Errorf("snapshot = %+v", view)
	}
	rec = doRequest(t, h, http.MethodGet, "/v1/partitions/work-1/snapshots/mailbox?state=false", nil)
	if view := decodeJSON[snapshotView](t, rec); len(view.State) != 0 {
		t.Error("state included with state=false")
	}

	if rec := doRequest(t, h, http.MethodPost, "/v1/partitions/work-1/snapshots/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown projection status = %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAgentsRoute(t *testing.T) {
	s, es := newTestServer(t)
	if rec := doRequest(t, s.NewHTTPHandler(""), http.MethodGet, "/v1/agents", nil); rec.Code != http.StatusNotFound {
		t.Errorf("roster disabled status = %d", rec.Code)
	}

	tracker := presence.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub := es.Subscribe(eventstore.AllPartitions, tracker.Observe)
	defer es.Unsubscribe(sub)
	h := New(es, nil, WithRoster(tracker)).NewHTTPHandler("")

	appendVia(t, h, "work-1", model.TypeMessageSent, sendMsg("A", "B", "c1"))
	appendVia(t, h, "work-2", model.TypeNoteTodo, map[string]any{"agent_id": "B", "title": "t"})

	got := decodeJSON[struct {
		Agents []presence.Entry `json:"agents"`
		Count  int              `json:"count"`
	}](t, doRequest(t, h, http.MethodGet, "/v1/agents", nil))
	if got.Count != 2 || len(got.Agents) != 2 || got.Agents[0].Agent == got.Agents[1].Agent {
		t.Errorf("agents = %+v", got)
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/agents?partition=work-1", nil)
	if byPartition := decodeJSON[struct {
		Agents []presence.Entry `json:"agents"`
	}](t, rec); len(byPartition.Agents) != 1 || byPartition.Agents[0].Agent != "A" {
		t.Errorf("work-1 agents = %+v", byPartition.Agents)
	}

	if rec := doRequest(t, h, http.MethodGet, "/v1/agents?stale=soon", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad stale status = %d", rec.Code)
	}
}
