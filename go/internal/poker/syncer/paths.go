package syncer

import "github.com/mcdev12/planningpoker/go/internal/poker/store"

// Paths locates one session's records in the store.
type Paths struct {
	Root string
}

func SessionPaths(sessionID string) Paths {
	return Paths{Root: store.Join("sessions", sessionID)}
}

func (p Paths) Meta() string          { return store.Child(p.Root, "meta") }
func (p Paths) Participants() string  { return store.Child(p.Root, "participants") }
func (p Paths) Items() string         { return store.Child(p.Root, "items") }
func (p Paths) Votes() string         { return store.Child(p.Root, "votes") }
func (p Paths) CurrentItem() string   { return store.Child(p.Root, "currentItem") }
func (p Paths) VotesRevealed() string { return store.Child(p.Root, "votesRevealed") }

func (p Paths) Participant(name string) string { return store.Child(p.Participants(), name) }
func (p Paths) Item(id string) string          { return store.Child(p.Items(), id) }
func (p Paths) Vote(name string) string        { return store.Child(p.Votes(), name) }
