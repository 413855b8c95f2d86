package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/events"
	"github.com/mcdev12/planningpoker/go/internal/poker/lobby"
	"github.com/mcdev12/planningpoker/go/internal/poker/metrics"
	"github.com/mcdev12/planningpoker/go/internal/poker/state"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

// CommandType names a session command sent over REST or WebSocket.
type CommandType string

const (
	CommandAddItem CommandType = "add_item"
	CommandSelect  CommandType = "select"
	CommandVote    CommandType = "vote"
	CommandReveal  CommandType = "reveal"
	CommandReset   CommandType = "reset"
	CommandAdvance CommandType = "advance"
)

// Command is a client request against the current session.
type Command struct {
	Type        CommandType `json:"type"`
	ItemID      string      `json:"item_id,omitempty"`
	Value       string      `json:"value,omitempty"`
	Description string      `json:"description,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
}

// CommandResult is returned to the issuer of an accepted command.
type CommandResult struct {
	RequestID string `json:"request_id,omitempty"`
	Changed   bool   `json:"changed"`
	Notice    string `json:"notice,omitempty"`
}

// Dispatcher runs commands against rooms and reports what happened.
type Dispatcher struct {
	publisher events.Publisher
	recorder  metrics.Recorder
	clock     clockwork.Clock
}

func NewDispatcher(publisher events.Publisher, recorder metrics.Recorder, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{publisher: publisher, recorder: recorder, clock: clock}
}

// Execute applies cmd for actor. Accepted commands are published to the
// activity feed.
func (d *Dispatcher) Execute(ctx context.Context, room *Room, actor voting.Actor, cmd Command) (voting.Result, error) {
	start := d.clock.Now()
	before := room.State.Snapshot()

	res, err := d.run(room.Machine, actor, cmd)

	d.recorder.RecordCommandLatency(string(cmd.Type), d.clock.Since(start))
	d.recorder.RecordCommand(string(cmd.Type), outcome(res, err))
	if err != nil {
		log.Debug().
			Err(err).
			Str("session_id", room.ID).
			Str("command", string(cmd.Type)).
			Str("actor", actor.Name).
			Msg("command rejected")
		return res, err
	}
	if res.Changed {
		d.publish(ctx, room, actor, cmd, before)
	}
	return res, nil
}

func (d *Dispatcher) run(m *voting.Machine, actor voting.Actor, cmd Command) (voting.Result, error) {
	switch cmd.Type {
	case CommandAddItem:
		return m.AddItem(actor, cmd.Description)
	case CommandSelect:
		return m.SelectItem(actor, cmd.ItemID)
	case CommandVote:
		return m.CastVote(actor, cmd.Value)
	case CommandReveal:
		return m.Reveal(actor)
	case CommandReset:
		return m.Reset(actor)
	case CommandAdvance:
		return m.Advance(actor)
	default:
		return voting.Result{}, &voting.Rejection{
			Kind:   voting.KindValidation,
			Reason: fmt.Sprintf("unknown command %q", cmd.Type),
		}
	}
}

func outcome(res voting.Result, err error) string {
	var rej *voting.Rejection
	switch {
	case errors.As(err, &rej):
		return string(rej.Kind)
	case err != nil:
		return "error"
	case !res.Changed:
		return "noop"
	default:
		return "ok"
	}
}

// publish reports an accepted command. before is the projection the
// command was checked against.
func (d *Dispatcher) publish(ctx context.Context, room *Room, actor voting.Actor, cmd Command, before state.Snapshot) {
	var (
		typ     events.EventType
		payload any
	)
	switch cmd.Type {
	case CommandAddItem:
		typ, payload = events.EventTypeItemAdded, events.ItemAddedPayload{Description: strings.TrimSpace(cmd.Description)}
	case CommandSelect:
		it, _, _ := before.Item(cmd.ItemID)
		typ, payload = events.EventTypeItemSelected, events.ItemSelectedPayload{ItemID: it.ID, Description: it.Description}
	case CommandAdvance:
		_, idx, _ := before.Item(before.CurrentItemID())
		if idx+1 >= len(before.Items) {
			return
		}
		it := before.Items[idx+1]
		typ, payload = events.EventTypeItemSelected, events.ItemSelectedPayload{ItemID: it.ID, Description: it.Description}
	case CommandVote:
		typ, payload = events.EventTypeVoteCast, events.VoteCastPayload{Participant: actor.Name, ItemID: before.CurrentItemID()}
	case CommandReveal:
		p := events.VotesRevealedPayload{ItemID: before.CurrentItemID(), Votes: before.Votes}
		if sv := newStatsView(before.Votes); sv != nil {
			p.Mean, p.Median, p.Mode = &sv.Mean, &sv.Median, sv.Mode
		}
		typ, payload = events.EventTypeVotesRevealed, p
	case CommandReset:
		typ, payload = events.EventTypeVotesReset, events.VotesResetPayload{ItemID: before.CurrentItemID()}
	default:
		return
	}
	d.emit(ctx, room.ID, typ, actor.Name, payload)
}

func (d *Dispatcher) emit(ctx context.Context, sessionID string, typ events.EventType, actor string, payload any) {
	event, err := events.New(sessionID, typ, actor, d.clock.Now(), payload)
	if err == nil {
		err = d.publisher.Publish(ctx, event)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("event_type", string(typ)).
			Msg("failed to publish session event")
	}
}

// statusFor maps command and lobby errors onto HTTP status codes.
func statusFor(err error) int {
	var rej *voting.Rejection
	switch {
	case errors.As(err, &rej):
		switch rej.Kind {
		case voting.KindAuthorization:
			return http.StatusForbidden
		case voting.KindPrecondition:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case errors.Is(err, lobby.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrNameRequired),
		errors.Is(err, lobby.ErrSessionIDRequired),
		errors.Is(err, lobby.ErrInvalidSessionID),
		errors.Is(err, models.ErrUnknownDeck):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
