// Package events describes the session activity feed published after every
// accepted command.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for all session activity.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"type"`
	Actor     string          `json:"actor,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type EventType string

const (
	EventTypeSessionCreated    EventType = "SessionCreated"
	EventTypeParticipantJoined EventType = "ParticipantJoined"
	EventTypeItemAdded         EventType = "ItemAdded"
	EventTypeItemSelected      EventType = "ItemSelected"
	EventTypeVoteCast          EventType = "VoteCast"
	EventTypeVotesRevealed     EventType = "VotesRevealed"
	EventTypeVotesReset        EventType = "VotesReset"
)

type SessionCreatedPayload struct {
	DeckType string `json:"deck_type"`
	Admin    string `json:"admin"`
}

type ParticipantJoinedPayload struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

type ItemAddedPayload struct {
	Description string `json:"description"`
}

type ItemSelectedPayload struct {
	ItemID      string `json:"item_id"`
	Description string `json:"description"`
}

// VoteCastPayload leaves out the card; votes stay hidden until reveal.
type VoteCastPayload struct {
	Participant string `json:"participant"`
	ItemID      string `json:"item_id"`
}

type VotesRevealedPayload struct {
	ItemID string            `json:"item_id"`
	Votes  map[string]string `json:"votes"`
	Mean   *float64          `json:"mean,omitempty"`
	Median *float64          `json:"median,omitempty"`
	Mode   []string          `json:"mode,omitempty"`
}

type VotesResetPayload struct {
	ItemID string `json:"item_id,omitempty"`
}

// New builds an event with a time-ordered id.
func New(sessionID string, typ EventType, actor string, at time.Time, payload any) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, fmt.Errorf("generate event id: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        id.String(),
		SessionID: sessionID,
		Type:      typ,
		Actor:     actor,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// Decode unmarshals the payload of e into the matching payload struct.
func Decode(e Event) (any, error) {
	var payload any
	switch e.Type {
	case EventTypeSessionCreated:
		payload = &SessionCreatedPayload{}
	case EventTypeParticipantJoined:
		payload = &ParticipantJoinedPayload{}
	case EventTypeItemAdded:
		payload = &ItemAddedPayload{}
	case EventTypeItemSelected:
		payload = &ItemSelectedPayload{}
	case EventTypeVoteCast:
		payload = &VoteCastPayload{}
	case EventTypeVotesRevealed:
		payload = &VotesRevealedPayload{}
	case EventTypeVotesReset:
		payload = &VotesResetPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if err := json.Unmarshal(e.Data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
