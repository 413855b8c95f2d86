package models

import "time"

// Participant is a member of a session. The display name doubles as the key.
type Participant struct {
	Name     string    `json:"name"`
	IsAdmin  bool      `json:"isAdmin"`
	HasVoted bool      `json:"hasVoted"`
	JoinedAt time.Time `json:"joinedAt"`
}
