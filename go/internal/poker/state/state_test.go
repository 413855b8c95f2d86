package state

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

func TestApplyReplacesWholesale(t *testing.T) {
	s := New("AB12CD")
	s.ApplyVotes(map[string]string{"Alice": "3", "Bob": "5"})
	s.ApplyVotes(map[string]string{"Carol": "8"})
	s.ApplyVotes(nil)
	s.ApplyParticipants(map[string]models.Participant{"Alice": {IsAdmin: true}})

	snap := s.Snapshot()
	if len(snap.Votes) != 0 {
		t.Errorf("votes = %v, want empty", snap.Votes)
	}
	if got := snap.Participants["Alice"]; got.Name != "Alice" || !got.IsAdmin {
		t.Errorf("participant = %+v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New("AB12CD")
	s.ApplyVotes(map[string]string{"Alice": "3"})
	snap := s.Snapshot()
	snap.Votes["Alice"] = "100"
	snap.Votes["Mallory"] = "1"

	if diff := cmp.Diff(map[string]string{"Alice": "3"}, s.Snapshot().Votes); diff != "" {
		t.Errorf("state changed through snapshot (-want +got):\n%s", diff)
	}
}

func TestSetLocalVoteIsOverwritten(t *testing.T) {
	s := New("AB12CD")
	s.ApplyParticipants(map[string]models.Participant{"Alice": {Name: "Alice"}})
	s.SetLocalVote("Alice", "5")

	snap := s.Snapshot()
	if snap.Votes["Alice"] != "5" || !snap.Participants["Alice"].HasVoted {
		t.Fatalf("optimistic vote missing: %+v", snap)
	}

	s.ApplyVotes(map[string]string{})
	if s.Snapshot().Votes["Alice"] != "" {
		t.Fatal("optimistic vote survived an incoming snapshot")
	}
}

func TestLocalTransitions(t *testing.T) {
	s := New("AB12CD")
	s.ApplyParticipants(map[string]models.Participant{"Alice": {IsAdmin: true}, "Bob": {HasVoted: true}})
	s.ApplyVotes(map[string]string{"Bob": "5"})
	s.ApplyItems([]models.Item{
		{ID: "i1", Description: "login", Status: models.ItemStatusVoting},
		{ID: "i2", Description: "signup", Status: models.ItemStatusPending},
	})
	s.ApplyCurrentItem(&models.Item{ID: "i1", Description: "login", Status: models.ItemStatusVoting})

	s.SetLocalRevealed(true)
	s.SetLocalItemStatus("i1", models.ItemStatusCompleted)
	snap := s.Snapshot()
	if !snap.Revealed {
		t.Error("reveal not applied")
	}
	if it, _ := snap.CurrentItem(); it.Status != models.ItemStatusCompleted {
		t.Errorf("current status = %s, want completed", it.Status)
	}

	s.SetLocalItemStatus("i1", models.ItemStatusPending)
	s.SetLocalItemStatus("i2", models.ItemStatusVoting)
	s.SetLocalCurrentItem(&models.Item{ID: "i2", Description: "signup", Status: models.ItemStatusVoting})
	s.SetLocalRevealed(false)
	s.ClearLocalVotes()

	snap = s.Snapshot()
	if got := snap.CurrentItemID(); got != "i2" {
		t.Errorf("current = %q, want i2", got)
	}
	want := []models.ItemStatus{models.ItemStatusPending, models.ItemStatusVoting}
	var got []models.ItemStatus
	for _, it := range snap.Items {
		got = append(got, it.Status)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}
	if snap.Revealed || len(snap.Votes) != 0 || snap.Participants["Bob"].HasVoted {
		t.Errorf("votes not cleared: %+v", snap)
	}

	s.SetLocalCurrentItem(nil)
	if snap.Items[0].Status != models.ItemStatusPending || s.Snapshot().CurrentItemID() != "" {
		t.Error("nil should clear the current item without touching earlier snapshots")
	}
}

func TestLocalItemStatusIgnoresUnknownID(t *testing.T) {
	s := New("AB12CD")
	s.ApplyItems([]models.Item{{ID: "i1", Status: models.ItemStatusPending}})
	select {
	case <-s.Changes():
	default:
	}
	s.SetLocalItemStatus("nope", models.ItemStatusVoting)
	select {
	case <-s.Changes():
		t.Error("unknown item should not signal a change")
	default:
	}
}

func TestCurrentItemPrefersBacklogEntry(t *testing.T) {
	s := New("AB12CD")
	s.ApplyCurrentItem(&models.Item{ID: "i1", Description: "login", Status: models.ItemStatusVoting})
	if it, ok := s.Snapshot().CurrentItem(); !ok || it.Status != models.ItemStatusVoting {
		t.Fatalf("CurrentItem = %+v, %v", it, ok)
	}

	s.ApplyItems([]models.Item{{ID: "i1", Description: "login", Status: models.ItemStatusCompleted}})
	if it, _ := s.Snapshot().CurrentItem(); it.Status != models.ItemStatusCompleted {
		t.Errorf("status = %s, want completed", it.Status)
	}

	s.ApplyCurrentItem(&models.Item{})
	if _, ok := s.Snapshot().CurrentItem(); ok {
		t.Error("empty item should clear the current item")
	}
}

func TestMetaDefaultsDeck(t *testing.T) {
	s := New("AB12CD")
	s.ApplyMeta(models.SessionMeta{DeckType: "bogus"})
	if got := s.Snapshot().DeckType(); got != models.DefaultDeck {
		t.Errorf("deck = %s, want %s", got, models.DefaultDeck)
	}
}

func TestParticipantListOrder(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := New("AB12CD")
	s.ApplyParticipants(map[string]models.Participant{
		"Carol": {Name: "Carol", JoinedAt: t0.Add(time.Minute)},
		"Bob":   {Name: "Bob", JoinedAt: t0},
		"Alice": {Name: "Alice", JoinedAt: t0},
	})
	var names []string
	for _, p := range s.Snapshot().ParticipantList() {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"Alice", "Bob", "Carol"}, names); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestChangesCoalesce(t *testing.T) {
	s := New("AB12CD")
	s.ApplyRevealed(true)
	s.ApplyRevealed(false)

	select {
	case <-s.Changes():
	default:
		t.Fatal("no change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("signals were not coalesced")
	default:
	}
}
