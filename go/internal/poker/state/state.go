// Package state holds the in-memory projection of one session.
//
// The projection is replaced path by path as snapshots arrive from the
// store; there is no merging. Commands also write it optimistically through
// the SetLocal methods so that the next command sees their effect; the
// store echo overwrites those values once it arrives.
package state

import (
	"sync"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// State is safe for concurrent use.
type State struct {
	sessionID string

	mu           sync.RWMutex
	meta         models.SessionMeta
	participants map[string]models.Participant
	items        []models.Item
	votes        map[string]string
	currentItem  *models.Item
	revealed     bool
	version      uint64

	changes chan struct{}
}

// New returns an empty projection for sessionID.
func New(sessionID string) *State {
	return &State{
		sessionID:    sessionID,
		meta:         models.SessionMeta{DeckType: models.DefaultDeck},
		participants: map[string]models.Participant{},
		votes:        map[string]string{},
		changes:      make(chan struct{}, 1),
	}
}

func (s *State) SessionID() string { return s.sessionID }

// Changes fires after every update. Signals coalesce, so a receiver should
// take a fresh Snapshot each time.
func (s *State) Changes() <-chan struct{} { return s.changes }

func (s *State) changed() {
	s.version++
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *State) ApplyMeta(meta models.SessionMeta) {
	if !meta.DeckType.Valid() {
		meta.DeckType = models.DefaultDeck
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
	s.changed()
}

func (s *State) ApplyParticipants(participants map[string]models.Participant) {
	next := make(map[string]models.Participant, len(participants))
	for name, p := range participants {
		if p.Name == "" {
			p.Name = name
		}
		next[name] = p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = next
	s.changed()
}

// ApplyItems replaces the backlog. items must be in insertion order.
func (s *State) ApplyItems(items []models.Item) {
	next := make([]models.Item, len(items))
	copy(next, items)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = next
	s.changed()
}

func (s *State) ApplyVotes(votes map[string]string) {
	next := make(map[string]string, len(votes))
	for k, v := range votes {
		next[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = next
	s.changed()
}

// ApplyCurrentItem sets the current item; nil clears it.
func (s *State) ApplyCurrentItem(item *models.Item) {
	var next *models.Item
	if item != nil && item.ID != "" {
		cp := *item
		next = &cp
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentItem = next
	s.changed()
}

func (s *State) ApplyRevealed(revealed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed = revealed
	s.changed()
}

// SetLocalVote records a vote before the store confirms it.
func (s *State) SetLocalVote(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[name] = value
	if p, ok := s.participants[name]; ok {
		p.HasVoted = true
		s.participants[name] = p
	}
	s.changed()
}

// SetLocalRevealed records the reveal flag before the store confirms it.
func (s *State) SetLocalRevealed(revealed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed = revealed
	s.changed()
}

// SetLocalCurrentItem records the selection before the store confirms it;
// nil clears it.
func (s *State) SetLocalCurrentItem(item *models.Item) {
	var next *models.Item
	if item != nil && item.ID != "" {
		cp := *item
		next = &cp
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentItem = next
	s.changed()
}

// SetLocalItemStatus updates one backlog item. Unknown ids are ignored.
func (s *State) SetLocalItemStatus(id string, status models.ItemStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]models.Item, len(s.items))
	copy(next, s.items)
	found := false
	for i := range next {
		if next[i].ID == id {
			next[i].Status = status
			found = true
		}
	}
	if !found {
		return
	}
	s.items = next
	if s.currentItem != nil && s.currentItem.ID == id {
		cp := *s.currentItem
		cp.Status = status
		s.currentItem = &cp
	}
	s.changed()
}

// ClearLocalVotes drops every vote and hasVoted flag before the store
// confirms it.
func (s *State) ClearLocalVotes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = map[string]string{}
	next := make(map[string]models.Participant, len(s.participants))
	for name, p := range s.participants {
		p.HasVoted = false
		next[name] = p
	}
	s.participants = next
	s.changed()
}

// Snapshot returns a copy of the current projection.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID:    s.sessionID,
		Version:      s.version,
		Meta:         s.meta,
		Participants: make(map[string]models.Participant, len(s.participants)),
		Items:        make([]models.Item, len(s.items)),
		Votes:        make(map[string]string, len(s.votes)),
		Revealed:     s.revealed,
	}
	for k, v := range s.participants {
		snap.Participants[k] = v
	}
	copy(snap.Items, s.items)
	for k, v := range s.votes {
		snap.Votes[k] = v
	}
	if s.currentItem != nil {
		cp := *s.currentItem
		snap.currentItem = &cp
	}
	return snap
}
