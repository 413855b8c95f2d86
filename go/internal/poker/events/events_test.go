package events

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewAndDecode(t *testing.T) {
	at := time.Date(2024, 5, 1, 11, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	e, err := New("AB12CD", EventTypeVoteCast, "Bob", at, VoteCastPayload{Participant: "Bob", ItemID: "i1"})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || !e.Timestamp.Equal(at) || e.Timestamp.Location() != time.UTC {
		t.Errorf("envelope = %+v", e)
	}
	if string(e.Data) != `{"participant":"Bob","item_id":"i1"}` {
		t.Errorf("data = %s", e.Data)
	}

	got, err := Decode(e)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&VoteCastPayload{Participant: "Bob", ItemID: "i1"}, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode(Event{Type: "PickMade", Data: []byte(`{}`)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEventIDsAreOrdered(t *testing.T) {
	a, _ := New("AB12CD", EventTypeItemAdded, "Alice", time.Now(), ItemAddedPayload{Description: "a"})
	time.Sleep(2 * time.Millisecond)
	b, _ := New("AB12CD", EventTypeItemAdded, "Alice", time.Now(), ItemAddedPayload{Description: "b"})
	if a.ID >= b.ID {
		t.Errorf("ids not ordered: %s >= %s", a.ID, b.ID)
	}
}
