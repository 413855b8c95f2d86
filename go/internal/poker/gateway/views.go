package gateway

import (
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/state"
	"github.com/mcdev12/planningpoker/go/internal/poker/stats"
)

// strict strips every tag. Policies are safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// SessionView is the session as one participant sees it.
type SessionView struct {
	SessionID    string            `json:"session_id"`
	Version      uint64            `json:"version"`
	DeckType     models.DeckType   `json:"deck_type"`
	Cards        []string          `json:"cards"`
	CreatedAt    *time.Time        `json:"created_at,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Items        []ItemView        `json:"items"`
	CurrentItem  *ItemView         `json:"current_item,omitempty"`
	Revealed     bool              `json:"revealed"`
	MyVote       string            `json:"my_vote,omitempty"`
	Stats        *StatsView        `json:"stats,omitempty"`
}

// ParticipantView carries a vote only once votes are revealed.
type ParticipantView struct {
	Name     string `json:"name"`
	IsAdmin  bool   `json:"is_admin"`
	HasVoted bool   `json:"has_voted"`
	Vote     string `json:"vote,omitempty"`
}

type ItemView struct {
	ID              string            `json:"id"`
	Description     string            `json:"description"`
	DescriptionText string            `json:"description_text"`
	Status          models.ItemStatus `json:"status"`
}

type StatsView struct {
	Mean       float64  `json:"mean"`
	Median     float64  `json:"median"`
	Mode       []string `json:"mode"`
	MeanText   string   `json:"mean_text"`
	MedianText string   `json:"median_text"`
	ModeText   string   `json:"mode_text"`
	VoteCount  int      `json:"vote_count"`
	PassCount  int      `json:"pass_count"`
}

func newItemView(it models.Item) ItemView {
	return ItemView{
		ID:              it.ID,
		Description:     it.Description,
		DescriptionText: strict.Sanitize(it.Description),
		Status:          it.Status,
	}
}

func newStatsView(votes map[string]string) *StatsView {
	sum, ok := stats.Compute(votes)
	if !ok {
		return nil
	}
	return &StatsView{
		Mean:       sum.Mean,
		Median:     sum.Median,
		Mode:       sum.Mode,
		MeanText:   sum.MeanDisplay(),
		MedianText: sum.MedianDisplay(),
		ModeText:   sum.ModeDisplay(),
		VoteCount:  sum.Votes,
		PassCount:  sum.Passes,
	}
}

// BuildView renders snap for viewer. Other participants' votes stay hidden
// until reveal; the viewer always sees their own.
func BuildView(snap state.Snapshot, viewer string) SessionView {
	view := SessionView{
		SessionID:    snap.SessionID,
		Version:      snap.Version,
		DeckType:     snap.DeckType(),
		Cards:        snap.DeckType().Cards(),
		Participants: make([]ParticipantView, 0, len(snap.Participants)),
		Items:        make([]ItemView, 0, len(snap.Items)),
		Revealed:     snap.Revealed,
		MyVote:       snap.Votes[viewer],
	}
	if !snap.Meta.CreatedAt.IsZero() {
		created := snap.Meta.CreatedAt
		view.CreatedAt = &created
	}

	for _, p := range snap.ParticipantList() {
		pv := ParticipantView{
			Name:     p.Name,
			IsAdmin:  p.IsAdmin,
			HasVoted: snap.HasVoted(p.Name),
		}
		if snap.Revealed {
			pv.Vote = snap.Votes[p.Name]
		}
		view.Participants = append(view.Participants, pv)
	}
	for _, it := range snap.Items {
		view.Items = append(view.Items, newItemView(it))
	}
	if it, ok := snap.CurrentItem(); ok {
		iv := newItemView(it)
		view.CurrentItem = &iv
	}
	if snap.Revealed {
		view.Stats = newStatsView(snap.Votes)
	}
	return view
}
