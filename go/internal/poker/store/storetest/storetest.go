// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

// Wait bounds every asynchronous expectation.
var Wait = 5 * time.Second

// Factory returns a pair of stores sharing the same data. Backends with a
// single client may return the same store twice.
type Factory func(t *testing.T) (store.Store, store.Store)

// Run exercises a backend.
func Run(t *testing.T, newPair Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, a, b store.Store)
	}{
		{"ReadMissing", testReadMissing},
		{"WriteRead", testWriteRead},
		{"WriteReplacesSubtree", testWriteReplacesSubtree},
		{"WriteBelowLeaf", testWriteBelowLeaf},
		{"Merge", testMerge},
		{"AppendOrder", testAppendOrder},
		{"Delete", testDelete},
		{"SubscribeCurrentFirst", testSubscribeCurrentFirst},
		{"SubscribeSeesOtherClient", testSubscribeSeesOtherClient},
		{"SubscribeIgnoresSiblings", testSubscribeIgnoresSiblings},
		{"SubscriptionClose", testSubscriptionClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := newPair(t)
			tt.fn(t, a, b)
		})
	}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), Wait)
	t.Cleanup(cancel)
	return c
}

// Equal compares two JSON documents semantically.
func Equal(t *testing.T, got json.RawMessage, want string) bool {
	t.Helper()
	if got == nil || want == "" {
		return got == nil && want == ""
	}
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("unmarshal %s: %v", want, err)
	}
	return cmp.Equal(g, w)
}

func mustRead(t *testing.T, s store.Store, path, want string) {
	t.Helper()
	got, err := s.Read(ctx(t), path)
	if err != nil {
		t.Fatalf("Read(%s): %v", path, err)
	}
	if !Equal(t, got, want) {
		t.Fatalf("Read(%s) = %s, want %s", path, got, want)
	}
}

// Await reads events until one matches want. An empty want waits for an
// absent value.
func Await(t *testing.T, sub store.Subscription, want string) {
	t.Helper()
	timeout := time.After(Wait)
	var last json.RawMessage
	for {
		select {
		case snap, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed, last value %s, want %s", last, want)
			}
			last = snap.Value
			if Equal(t, snap.Value, want) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out, last value %s, want %s", last, want)
		}
	}
}

func testReadMissing(t *testing.T, a, _ store.Store) {
	mustRead(t, a, "sessions/NOPE/meta", "")
}

func testWriteRead(t *testing.T, a, b store.Store) {
	c := ctx(t)
	item := map[string]any{"id": "i1", "description": "login page", "status": "pending"}
	if err := a.Write(c, "sessions/S1/currentItem", item); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(c, "sessions/S1/votesRevealed", true); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, "sessions/S1/currentItem", `{"id":"i1","description":"login page","status":"pending"}`)
	mustRead(t, b, "sessions/S1/votesRevealed", `true`)
	mustRead(t, b, "sessions/S1", `{"currentItem":{"id":"i1","description":"login page","status":"pending"},"votesRevealed":true}`)
}

func testWriteReplacesSubtree(t *testing.T, a, b store.Store) {
	c := ctx(t)
	if err := a.Write(c, "sessions/S1/votes", map[string]string{"Alice": "3", "Bob": "5"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(c, "sessions/S1/votes", map[string]string{"Carol": "8"}); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, "sessions/S1/votes", `{"Carol":"8"}`)

	if err := a.Write(c, "sessions/S1/votes", "gone"); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, "sessions/S1/votes", `"gone"`)
	mustRead(t, b, "sessions/S1/votes/Carol", "")
}

func testWriteBelowLeaf(t *testing.T, a, b store.Store) {
	c := ctx(t)
	if err := a.Write(c, "sessions/S1/currentItem", "x"); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(c, "sessions/S1/currentItem/id", "i2"); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, "sessions/S1/currentItem", `{"id":"i2"}`)
}

func testMerge(t *testing.T, a, b store.Store) {
	c := ctx(t)
	p := store.Join("sessions", "S1", "participants", "Alice")
	if err := a.Write(c, p, map[string]any{"name": "Alice", "isAdmin": true, "hasVoted": false}); err != nil {
		t.Fatal(err)
	}
	if err := a.Merge(c, p, map[string]any{"hasVoted": true}); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, p, `{"name":"Alice","isAdmin":true,"hasVoted":true}`)

	if err := a.Merge(c, p, map[string]any{"isAdmin": nil}); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, p, `{"name":"Alice","hasVoted":true}`)
}

func testAppendOrder(t *testing.T, a, b store.Store) {
	c := ctx(t)
	var ids []string
	for _, d := range []string{"first", "second", "third"} {
		id, err := a.Append(c, "sessions/S1/items", map[string]string{"description": d})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("push ids not ordered: %v", ids)
	}
	mustRead(t, b, store.Join("sessions", "S1", "items", ids[1], "description"), `"second"`)
}

func testDelete(t *testing.T, a, b store.Store) {
	c := ctx(t)
	if err := a.Write(c, "sessions/S1/votes", map[string]string{"Alice": "3"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Delete(c, "sessions/S1/votes"); err != nil {
		t.Fatal(err)
	}
	mustRead(t, b, "sessions/S1/votes", "")
}

func testSubscribeCurrentFirst(t *testing.T, a, _ store.Store) {
	c := ctx(t)
	if err := a.Write(c, "sessions/S1/votesRevealed", false); err != nil {
		t.Fatal(err)
	}
	sub, err := a.Subscribe(c, "sessions/S1/votesRevealed")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	select {
	case snap := <-sub.Events():
		if !Equal(t, snap.Value, "false") {
			t.Fatalf("first snapshot = %s, want false", snap.Value)
		}
	case <-time.After(Wait):
		t.Fatal("no initial snapshot")
	}
	if err := a.Write(c, "sessions/S1/votesRevealed", true); err != nil {
		t.Fatal(err)
	}
	Await(t, sub, "true")
}

func testSubscribeSeesOtherClient(t *testing.T, a, b store.Store) {
	c := ctx(t)
	sub, err := b.Subscribe(c, "sessions/S1/votes")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	Await(t, sub, "")

	if err := a.Write(c, store.Join("sessions", "S1", "votes", "Alice"), "5"); err != nil {
		t.Fatal(err)
	}
	Await(t, sub, `{"Alice":"5"}`)

	// Replacing the parent also reaches the child subscription.
	if err := a.Write(c, "sessions/S1", map[string]any{"votesRevealed": true}); err != nil {
		t.Fatal(err)
	}
	Await(t, sub, "")
}

func testSubscribeIgnoresSiblings(t *testing.T, a, _ store.Store) {
	c := ctx(t)
	sub, err := a.Subscribe(c, "sessions/S1/votes")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	Await(t, sub, "")

	if err := a.Write(c, "sessions/S1/votesRevealed", true); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(c, "sessions/S2/votes/Alice", "1"); err != nil {
		t.Fatal(err)
	}
	select {
	case snap := <-sub.Events():
		t.Fatalf("unexpected snapshot %s", snap.Value)
	case <-time.After(200 * time.Millisecond):
	}
}

func testSubscriptionClose(t *testing.T, a, _ store.Store) {
	c := ctx(t)
	sub, err := a.Subscribe(c, "sessions/S1/votes")
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()
	for range sub.Events() {
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Read(c, "sessions/S1/votes"); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("Read after Close: %v, want ErrClosed", err)
	}
}
