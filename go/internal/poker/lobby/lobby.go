// Package lobby creates and joins sessions.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/poker/syncer"
)

var (
	ErrNameRequired      = errors.New("please enter your name")
	ErrSessionIDRequired = errors.New("please enter a session ID")
	ErrInvalidSessionID  = errors.New("invalid session ID")
	// ErrSessionNotFound means the session never existed or its data is gone.
	ErrSessionNotFound = errors.New("session not found")
)

const maxCreateAttempts = 5

// Membership is what a caller needs after creating or joining.
type Membership struct {
	SessionID   string             `json:"sessionId"`
	Participant models.Participant `json:"participant"`
	Meta        models.SessionMeta `json:"meta"`
}

type Lobby struct {
	store store.Store
	clock clockwork.Clock
	newID func() (string, error)
}

func New(s store.Store, clock clockwork.Clock) *Lobby {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Lobby{store: s, clock: clock, newID: models.NewSessionID}
}

// Create starts a new session with name as its admin.
func (l *Lobby) Create(ctx context.Context, name string, deck models.DeckType) (Membership, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Membership{}, ErrNameRequired
	}
	if deck == "" {
		deck = models.DefaultDeck
	}
	if !deck.Valid() {
		return Membership{}, fmt.Errorf("%w %q", models.ErrUnknownDeck, deck)
	}

	var id string
	for attempt := 0; ; attempt++ {
		if attempt == maxCreateAttempts {
			return Membership{}, fmt.Errorf("no free session id after %d attempts", attempt)
		}
		candidate, err := l.newID()
		if err != nil {
			return Membership{}, err
		}
		exists, err := l.Exists(ctx, candidate)
		if err != nil {
			return Membership{}, err
		}
		if !exists {
			id = candidate
			break
		}
	}

	meta := models.SessionMeta{DeckType: deck, CreatedAt: l.clock.Now().UTC()}
	if err := l.store.Write(ctx, syncer.SessionPaths(id).Meta(), meta); err != nil {
		return Membership{}, fmt.Errorf("failed to create session: %w", err)
	}
	p, err := l.addParticipant(ctx, id, name, true)
	if err != nil {
		return Membership{}, err
	}

	log.Info().
		Str("session_id", id).
		Str("deck", string(deck)).
		Str("admin", name).
		Msg("session created")
	return Membership{SessionID: id, Participant: p, Meta: meta}, nil
}

// Join adds name to an existing session, replacing any participant with the
// same name. asAdmin restores admin rights for a returning creator.
func (l *Lobby) Join(ctx context.Context, sessionID, name string, asAdmin bool) (Membership, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Membership{}, ErrNameRequired
	}
	id, err := normalize(sessionID)
	if err != nil {
		return Membership{}, err
	}

	meta, err := l.readMeta(ctx, id)
	if err != nil {
		return Membership{}, err
	}
	p, err := l.addParticipant(ctx, id, name, asAdmin)
	if err != nil {
		return Membership{}, err
	}

	log.Info().
		Str("session_id", id).
		Str("participant", name).
		Bool("admin", asAdmin).
		Msg("participant joined")
	return Membership{SessionID: id, Participant: p, Meta: meta}, nil
}

// Exists reports whether the session still has its meta record.
func (l *Lobby) Exists(ctx context.Context, sessionID string) (bool, error) {
	id, err := normalize(sessionID)
	if err != nil {
		return false, err
	}
	_, err = l.readMeta(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (l *Lobby) readMeta(ctx context.Context, id string) (models.SessionMeta, error) {
	raw, err := l.store.Read(ctx, syncer.SessionPaths(id).Meta())
	if err != nil {
		return models.SessionMeta{}, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if raw == nil {
		return models.SessionMeta{}, ErrSessionNotFound
	}
	var meta models.SessionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return models.SessionMeta{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if !meta.DeckType.Valid() {
		meta.DeckType = models.DefaultDeck
	}
	return meta, nil
}

func (l *Lobby) addParticipant(ctx context.Context, id, name string, admin bool) (models.Participant, error) {
	p := models.Participant{
		Name:     name,
		IsAdmin:  admin,
		HasVoted: false,
		JoinedAt: l.clock.Now().UTC(),
	}
	if err := l.store.Write(ctx, syncer.SessionPaths(id).Participant(name), p); err != nil {
		return models.Participant{}, fmt.Errorf("failed to add participant: %w", err)
	}
	return p, nil
}

func normalize(sessionID string) (string, error) {
	id := models.NormalizeSessionID(sessionID)
	if id == "" {
		return "", ErrSessionIDRequired
	}
	if !models.ValidSessionID(id) {
		return "", ErrInvalidSessionID
	}
	return id, nil
}
