package models

// ItemStatus defines where a backlog item is in the voting cycle.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusVoting    ItemStatus = "voting"
	ItemStatusCompleted ItemStatus = "completed"
)

// Item is a backlog entry to estimate.
type Item struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      ItemStatus `json:"status"`
}
