package syncer

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

func TestDecodersTolerateBadPayloads(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", `"x"`, "{"} {
		r := json.RawMessage(raw)
		if raw == "" {
			r = nil
		}
		if got := decodeParticipants(r); len(got) != 0 {
			t.Errorf("participants(%q) = %v", raw, got)
		}
		if got := decodeItems(r); len(got) != 0 {
			t.Errorf("items(%q) = %v", raw, got)
		}
		if got := decodeVotes(r); len(got) != 0 {
			t.Errorf("votes(%q) = %v", raw, got)
		}
		if got := decodeCurrentItem(r); got != nil {
			t.Errorf("currentItem(%q) = %v", raw, got)
		}
		if decodeRevealed(r) {
			t.Errorf("revealed(%q) = true", raw)
		}
	}
}

func TestDecodeSkipsMalformedEntries(t *testing.T) {
	items := decodeItems(json.RawMessage(`{"b":{"description":"two"},"a":{"description":"one","status":"completed"},"c":5}`))
	want := []models.Item{
		{ID: "a", Description: "one", Status: models.ItemStatusCompleted},
		{ID: "b", Description: "two", Status: models.ItemStatusPending},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	votes := decodeVotes(json.RawMessage(`{"Alice":"3","Bob":8,"Carol":{"x":1}}`))
	if diff := cmp.Diff(map[string]string{"Alice": "3", "Bob": "8"}, votes); diff != "" {
		t.Errorf("votes mismatch (-want +got):\n%s", diff)
	}
}
