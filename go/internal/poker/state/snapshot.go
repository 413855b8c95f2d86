package state

import (
	"sort"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Snapshot is an immutable copy of a session projection.
type Snapshot struct {
	SessionID    string
	Version      uint64
	Meta         models.SessionMeta
	Participants map[string]models.Participant
	Items        []models.Item
	Votes        map[string]string
	Revealed     bool

	currentItem *models.Item
}

// DeckType of the session.
func (s Snapshot) DeckType() models.DeckType {
	return s.Meta.DeckType
}

// CurrentItem returns the current item. The backlog entry wins over the
// copy stored with the selection since it carries the latest status.
func (s Snapshot) CurrentItem() (models.Item, bool) {
	if s.currentItem == nil {
		return models.Item{}, false
	}
	if it, _, ok := s.Item(s.currentItem.ID); ok {
		return it, true
	}
	return *s.currentItem, true
}

// CurrentItemID returns "" when no item is current.
func (s Snapshot) CurrentItemID() string {
	if s.currentItem == nil {
		return ""
	}
	return s.currentItem.ID
}

// Item finds a backlog item and its position.
func (s Snapshot) Item(id string) (models.Item, int, bool) {
	for i, it := range s.Items {
		if it.ID == id {
			return it, i, true
		}
	}
	return models.Item{}, -1, false
}

// HasVoted reports whether name voted on the current item.
func (s Snapshot) HasVoted(name string) bool {
	if _, ok := s.Votes[name]; ok {
		return true
	}
	return s.Participants[name].HasVoted
}

// ParticipantList returns participants in join order.
func (s Snapshot) ParticipantList() []models.Participant {
	out := make([]models.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// VotingItems returns the items currently in voting status.
func (s Snapshot) VotingItems() []models.Item {
	var out []models.Item
	for _, it := range s.Items {
		if it.Status == models.ItemStatusVoting {
			out = append(out, it)
		}
	}
	return out
}
