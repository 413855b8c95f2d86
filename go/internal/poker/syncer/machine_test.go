package syncer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/poker/store/memstore"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

var (
	alice = voting.Actor{Name: "Alice", IsAdmin: true}
	bob   = voting.Actor{Name: "Bob"}
)

func readVotes(t *testing.T, s store.Store) map[string]string {
	t.Helper()
	raw, err := s.Read(testContext(t), SessionPaths(sessionID).Votes())
	if err != nil {
		t.Fatal(err)
	}
	return decodeVotes(raw)
}

func wantKind(t *testing.T, err error, kind voting.Kind) {
	t.Helper()
	var rej *voting.Rejection
	if !errors.As(err, &rej) || rej.Kind != kind {
		t.Fatalf("err = %v, want %s rejection", err, kind)
	}
}

// The commands below run back to back, before the store echoes the first
// one, so each relies on the machine seeing its own earlier transition.

func TestVoteAfterRevealIsRejected(t *testing.T) {
	s := memstore.New()
	seed(t, s)
	a, st := startAdapter(t, s)
	m := voting.New(st, a)

	if _, err := m.Reveal(alice); err != nil {
		t.Fatal(err)
	}
	_, err := m.CastVote(bob, "8")
	wantKind(t, err, voting.KindPrecondition)

	if err := a.Flush(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"Bob": "5"}, readVotes(t, s)); diff != "" {
		t.Errorf("stored votes changed after reveal (-want +got):\n%s", diff)
	}
}

func TestVoteAfterResetIsAccepted(t *testing.T) {
	s := memstore.New()
	seed(t, s)
	a, st := startAdapter(t, s)
	m := voting.New(st, a)

	if _, err := m.Reveal(alice); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(testContext(t)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "reveal echo", func() bool { return st.Snapshot().Revealed })

	if _, err := m.Reset(alice); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CastVote(bob, "8"); err != nil {
		t.Fatalf("vote after reset: %v", err)
	}
	if err := a.Flush(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"Bob": "8"}, readVotes(t, s)); diff != "" {
		t.Errorf("stored votes (-want +got):\n%s", diff)
	}
	eventually(t, "state to settle", func() bool {
		snap := st.Snapshot()
		return !snap.Revealed && snap.Votes["Bob"] == "8" && snap.HasVoted("Bob")
	})
}

func TestVoteAfterFirstSelectionIsAccepted(t *testing.T) {
	s := memstore.New()
	seed(t, s)
	ctx := testContext(t)
	if err := s.Delete(ctx, SessionPaths(sessionID).CurrentItem()); err != nil {
		t.Fatal(err)
	}
	a, st := startAdapter(t, s)
	m := voting.New(st, a)

	if _, err := m.SelectItem(bob, "00-signup"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CastVote(bob, "13"); err != nil {
		t.Fatalf("vote after select: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]string{"Bob": "13"}, readVotes(t, s)); diff != "" {
		t.Errorf("stored votes (-want +got):\n%s", diff)
	}
	raw, err := s.Read(ctx, SessionPaths(sessionID).CurrentItem())
	if err != nil {
		t.Fatal(err)
	}
	if it := decodeCurrentItem(raw); it == nil || it.ID != "00-signup" {
		t.Errorf("stored current item = %+v", it)
	}
}

func TestAdvanceTwiceMovesTwice(t *testing.T) {
	s := memstore.New()
	seed(t, s)
	a, st := startAdapter(t, s)
	m := voting.New(st, a)

	res, err := m.Advance(alice)
	if err != nil || !res.Changed {
		t.Fatalf("first advance = %+v, %v", res, err)
	}
	res, err = m.Advance(alice)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed || res.Notice != voting.NoticeNoMoreItems {
		t.Errorf("second advance = %+v, want the last-item notice", res)
	}
	if got := st.Snapshot().CurrentItemID(); got != "00-signup" {
		t.Errorf("current = %q, want 00-signup", got)
	}

	if err := a.Flush(testContext(t)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "statuses to settle", func() bool {
		snap := st.Snapshot()
		login, _, _ := snap.Item("00-login")
		signup, _, _ := snap.Item("00-signup")
		return login.Status == models.ItemStatusPending && signup.Status == models.ItemStatusVoting
	})
}
