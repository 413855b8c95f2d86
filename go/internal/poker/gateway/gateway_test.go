package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/planningpoker/go/internal/poker/events"
	"github.com/mcdev12/planningpoker/go/internal/poker/lobby"
	"github.com/mcdev12/planningpoker/go/internal/poker/metrics"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/poker/store/memstore"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last(typ events.EventType) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == typ {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

type testEnv struct {
	srv   *httptest.Server
	svc   *Service
	clock *clockwork.FakeClock
	pub   *recordingPublisher
	reg   *prometheus.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, cfg, memstore.New())
}

func newTestEnvWithStore(t *testing.T, cfg Config, s store.Store) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		pub:   &recordingPublisher{},
		reg:   prometheus.NewRegistry(),
	}
	env.svc = NewService(cfg, s,
		WithClock(env.clock),
		WithPublisher(env.pub),
		WithRecorder(metrics.NewCollector(env.reg)),
	)
	mux := http.NewServeMux()
	env.svc.RegisterRoutes(mux)
	env.srv = httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.svc.Start(ctx) }()

	t.Cleanup(func() {
		env.srv.Close()
		cancel()
		<-done
		s.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, actor *voting.Actor, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if actor != nil {
		req.Header.Set(headerParticipantName, actor.Name)
		req.Header.Set(headerParticipantAdmin, strconv.FormatBool(actor.IsAdmin))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func (e *testEnv) mustDo(t *testing.T, want int, method, path string, actor *voting.Actor, body any) []byte {
	t.Helper()
	status, data := e.do(t, method, path, actor, body)
	if status != want {
		t.Fatalf("%s %s = %d %s, want %d", method, path, status, data, want)
	}
	return data
}

func (e *testEnv) createSession(t *testing.T, admin, deck string) string {
	t.Helper()
	data := e.mustDo(t, http.StatusCreated, http.MethodPost, "/api/sessions", nil,
		map[string]string{"name": admin, "deck_type": deck})
	var m lobby.Membership
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m.SessionID
}

func (e *testEnv) join(t *testing.T, id, name string) {
	t.Helper()
	e.mustDo(t, http.StatusCreated, http.MethodPost, "/api/sessions/"+id+"/participants", nil,
		map[string]any{"name": name})
}

func (e *testEnv) state(t *testing.T, id string, viewer *voting.Actor) SessionView {
	t.Helper()
	data := e.mustDo(t, http.StatusOK, http.MethodGet, "/api/sessions/"+id+"/state", viewer, nil)
	var view SessionView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatal(err)
	}
	return view
}

func (e *testEnv) awaitState(t *testing.T, id string, viewer *voting.Actor, what string, cond func(SessionView) bool) SessionView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		view := e.state(t, id, viewer)
		if cond(view) {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", what, view)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func participant(view SessionView, name string) (ParticipantView, bool) {
	for _, p := range view.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return ParticipantView{}, false
}

var (
	alice = &voting.Actor{Name: "Alice", IsAdmin: true}
	bob   = &voting.Actor{Name: "Bob"}
	carol = &voting.Actor{Name: "Carol"}
)

// addAndSelect adds description and makes it the current item.
func (e *testEnv) addAndSelect(t *testing.T, id, description string) string {
	t.Helper()
	e.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/items", alice, map[string]string{"description": description})
	view := e.awaitState(t, id, alice, "item", func(v SessionView) bool {
		for _, it := range v.Items {
			if it.Description == description {
				return true
			}
		}
		return false
	})
	var itemID string
	for _, it := range view.Items {
		if it.Description == description {
			itemID = it.ID
		}
	}
	e.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/select", alice, map[string]string{"item_id": itemID})
	e.awaitState(t, id, alice, "selection", func(v SessionView) bool {
		return v.CurrentItem != nil && v.CurrentItem.ID == itemID
	})
	return itemID
}

func TestVotingRound(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	id := env.createSession(t, "Alice", "modified")
	env.join(t, id, "Bob")
	env.join(t, id, "Carol")

	itemID := env.addAndSelect(t, id, "Login <b>page</b>")

	view := env.state(t, id, alice)
	if view.CurrentItem.Status != "voting" || view.CurrentItem.DescriptionText != "Login page" {
		t.Errorf("current item = %+v", view.CurrentItem)
	}

	for _, v := range []struct {
		actor *voting.Actor
		value string
	}{{bob, "3"}, {alice, "5"}, {carol, "3"}} {
		env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/votes", v.actor, map[string]string{"value": v.value})
	}

	view = env.awaitState(t, id, alice, "all votes", func(v SessionView) bool {
		for _, p := range v.Participants {
			if !p.HasVoted {
				return false
			}
		}
		return true
	})
	if view.MyVote != "5" {
		t.Errorf("my_vote = %q, want 5", view.MyVote)
	}
	if p, _ := participant(view, "Bob"); p.Vote != "" {
		t.Errorf("Bob's vote visible before reveal: %q", p.Vote)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/sessions/"+id+"/stats", alice, nil); status != http.StatusConflict {
		t.Errorf("stats before reveal = %d, want 409", status)
	}

	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/reveal", alice, nil)
	view = env.awaitState(t, id, bob, "reveal", func(v SessionView) bool { return v.Revealed })

	if p, _ := participant(view, "Alice"); p.Vote != "5" {
		t.Errorf("Alice's vote after reveal = %q", p.Vote)
	}
	want := &StatsView{
		Mean: 11.0 / 3, Median: 3, Mode: []string{"3"},
		MeanText: "3.67", MedianText: "3.00", ModeText: "3",
		VoteCount: 3,
	}
	if diff := cmp.Diff(want, view.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	data := env.mustDo(t, http.StatusOK, http.MethodGet, "/api/sessions/"+id+"/stats", nil, nil)
	var sr statsResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		t.Fatal(err)
	}
	if sr.ItemID != itemID || sr.Stats == nil || sr.Stats.MeanText != "3.67" {
		t.Errorf("stats response = %+v", sr)
	}

	// Voting is closed once revealed.
	env.mustDo(t, http.StatusConflict, http.MethodPost, "/api/sessions/"+id+"/votes", bob, map[string]string{"value": "8"})

	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/reset", alice, nil)
	view = env.awaitState(t, id, alice, "reset", func(v SessionView) bool {
		if v.Revealed || v.MyVote != "" {
			return false
		}
		for _, p := range v.Participants {
			if p.HasVoted {
				return false
			}
		}
		return true
	})
	if view.Stats != nil {
		t.Errorf("stats after reset = %+v", view.Stats)
	}

	revealed, ok := env.pub.last(events.EventTypeVotesRevealed)
	if !ok {
		t.Fatalf("no reveal event in %v", env.pub.types())
	}
	payload, err := events.Decode(revealed)
	if err != nil {
		t.Fatal(err)
	}
	if p := payload.(*events.VotesRevealedPayload); p.ItemID != itemID || len(p.Votes) != 3 || p.Mode[0] != "3" {
		t.Errorf("reveal payload = %+v", p)
	}
	cast, _ := env.pub.last(events.EventTypeVoteCast)
	if bytes.Contains(cast.Data, []byte(`"3"`)) || bytes.Contains(cast.Data, []byte(`"5"`)) {
		t.Errorf("vote event leaks the card: %s", cast.Data)
	}
}

func TestAdvance(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	id := env.createSession(t, "Alice", "fibonacci")
	first := env.addAndSelect(t, id, "first")
	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/items", alice, map[string]string{"description": "second"})
	env.awaitState(t, id, alice, "second item", func(v SessionView) bool { return len(v.Items) == 2 })

	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/advance", alice, nil)
	view := env.awaitState(t, id, alice, "advance", func(v SessionView) bool {
		return v.CurrentItem != nil && v.CurrentItem.ID != first
	})
	if view.CurrentItem.Description != "second" {
		t.Errorf("current item = %+v", view.CurrentItem)
	}

	data := env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/advance", alice, nil)
	var res CommandResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Changed || res.Notice != voting.NoticeNoMoreItems {
		t.Errorf("advance past end = %+v", res)
	}
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	id := env.createSession(t, "Alice", "")
	env.join(t, id, "Bob")
	itemID := env.addAndSelect(t, id, "story")
	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/items", alice, map[string]string{"description": "later"})
	view := env.awaitState(t, id, alice, "second item", func(v SessionView) bool { return len(v.Items) == 2 })
	otherID := view.Items[0].ID
	if otherID == itemID {
		otherID = view.Items[1].ID
	}

	tests := []struct {
		name   string
		method string
		path   string
		actor  *voting.Actor
		body   any
		want   int
	}{
		{"create without name", http.MethodPost, "/api/sessions", nil, map[string]string{"name": " "}, http.StatusBadRequest},
		{"create with unknown deck", http.MethodPost, "/api/sessions", nil, map[string]string{"name": "Al", "deck_type": "primes"}, http.StatusBadRequest},
		{"join unknown session", http.MethodPost, "/api/sessions/ZZZZZZ/participants", nil, map[string]string{"name": "Dan"}, http.StatusNotFound},
		{"join malformed id", http.MethodPost, "/api/sessions/a-b/participants", nil, map[string]string{"name": "Dan"}, http.StatusBadRequest},
		{"state of unknown session", http.MethodGet, "/api/sessions/ZZZZZZ/state", nil, nil, http.StatusNotFound},
		{"non-admin select", http.MethodPost, "/api/sessions/" + id + "/select", bob, map[string]string{"item_id": otherID}, http.StatusForbidden},
		{"non-admin reveal", http.MethodPost, "/api/sessions/" + id + "/reveal", bob, nil, http.StatusForbidden},
		{"vote off deck", http.MethodPost, "/api/sessions/" + id + "/votes", bob, map[string]string{"value": "7"}, http.StatusBadRequest},
		{"vote without name", http.MethodPost, "/api/sessions/" + id + "/votes", nil, map[string]string{"value": "5"}, http.StatusBadRequest},
		{"select unknown item", http.MethodPost, "/api/sessions/" + id + "/select", alice, map[string]string{"item_id": "nope"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/sessions/" + id + "/votes", bob, "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := env.do(t, tt.method, tt.path, tt.actor, tt.body)
			if status != tt.want {
				t.Errorf("status = %d (%s), want %d", status, data, tt.want)
			}
		})
	}

	// Nothing above changed the round.
	view = env.state(t, id, alice)
	if view.CurrentItem == nil || view.CurrentItem.ID != itemID || view.Revealed {
		t.Errorf("state changed by rejected commands: %+v", view)
	}
}

// revealFailStore fails writes to the reveal flag while failing is set.
type revealFailStore struct {
	store.Store
	failing atomic.Bool
}

func (s *revealFailStore) Write(ctx context.Context, path string, value any) error {
	if s.failing.Load() && strings.HasSuffix(path, "/votesRevealed") {
		return errors.New("disk full")
	}
	return s.Store.Write(ctx, path, value)
}

func TestFailedStoreWriteIsBadGateway(t *testing.T) {
	fs := &revealFailStore{Store: memstore.New()}
	env := newTestEnvWithStore(t, DefaultConfig(), fs)
	id := env.createSession(t, "Alice", "")
	env.join(t, id, "Bob")
	env.addAndSelect(t, id, "story")
	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/votes", bob, map[string]string{"value": "5"})

	fs.failing.Store(true)
	status, data := env.do(t, http.MethodPost, "/api/sessions/"+id+"/reveal", alice, nil)
	if status != http.StatusBadGateway {
		t.Fatalf("reveal = %d %s, want 502", status, data)
	}
	if !strings.Contains(string(data), "disk full") {
		t.Errorf("body = %s, want the store error", data)
	}

	fs.failing.Store(false)
	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/reset", alice, nil)
	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/votes", bob, map[string]string{"value": "8"})
}

func TestCommandMetrics(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	id := env.createSession(t, "Alice", "")
	env.join(t, id, "Bob")
	env.mustDo(t, http.StatusForbidden, http.MethodPost, "/api/sessions/"+id+"/reveal", bob, nil)
	env.mustDo(t, http.StatusOK, http.MethodPost, "/api/sessions/"+id+"/items", alice, map[string]string{"description": "x"})

	families, err := env.reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "poker_commands_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var cmdName, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "command":
					cmdName = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			got[cmdName+"/"+outcome] = m.GetCounter().GetValue()
		}
	}
	want := map[string]float64{"reveal/authorization": 1, "add_item/ok": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("command counters mismatch (-want +got):\n%s", diff)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	var health HealthStatus
	if err := json.Unmarshal(env.mustDo(t, http.StatusOK, http.MethodGet, "/health", nil, nil), &health); err != nil {
		t.Fatal(err)
	}
	if !health.Healthy || !health.StoreReachable {
		t.Errorf("health = %+v", health)
	}

	data := env.mustDo(t, http.StatusOK, http.MethodGet, "/ws/stats", nil, nil)
	var stats map[string]any
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats["total_connections"] != float64(0) {
		t.Errorf("stats = %v", stats)
	}
}
