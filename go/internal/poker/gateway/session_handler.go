package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/events"
	"github.com/mcdev12/planningpoker/go/internal/poker/lobby"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

const (
	headerParticipantName  = "X-Participant-Name"
	headerParticipantAdmin = "X-Participant-Admin"
)

const maxBodyBytes = 16 << 10

var errVotesHidden = &voting.Rejection{Kind: voting.KindPrecondition, Reason: "Votes have not been revealed"}

// SessionHandler serves the REST API for sessions.
type SessionHandler struct {
	lobby      *lobby.Lobby
	rooms      *RoomManager
	dispatcher *Dispatcher
}

func NewSessionHandler(l *lobby.Lobby, rooms *RoomManager, dispatcher *Dispatcher) *SessionHandler {
	return &SessionHandler{lobby: l, rooms: rooms, dispatcher: dispatcher}
}

type createSessionRequest struct {
	Name     string `json:"name"`
	DeckType string `json:"deck_type"`
}

type joinSessionRequest struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

type statsResponse struct {
	SessionID string     `json:"session_id"`
	ItemID    string     `json:"item_id,omitempty"`
	Stats     *StatsView `json:"stats"`
}

func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.HandleCreate)
	mux.HandleFunc("POST /api/sessions/{id}/participants", h.HandleJoin)
	mux.HandleFunc("GET /api/sessions/{id}/state", h.HandleState)
	mux.HandleFunc("GET /api/sessions/{id}/stats", h.HandleStats)
	mux.HandleFunc("POST /api/sessions/{id}/items", h.command(CommandAddItem))
	mux.HandleFunc("POST /api/sessions/{id}/select", h.command(CommandSelect))
	mux.HandleFunc("POST /api/sessions/{id}/votes", h.command(CommandVote))
	mux.HandleFunc("POST /api/sessions/{id}/reveal", h.command(CommandReveal))
	mux.HandleFunc("POST /api/sessions/{id}/reset", h.command(CommandReset))
	mux.HandleFunc("POST /api/sessions/{id}/advance", h.command(CommandAdvance))
}

// HandleCreate handles POST /api/sessions.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	deck, err := models.ParseDeckType(req.DeckType)
	if err != nil {
		writeError(w, err)
		return
	}

	membership, err := h.lobby.Create(r.Context(), req.Name, deck)
	if err != nil {
		writeError(w, err)
		return
	}
	h.dispatcher.emit(r.Context(), membership.SessionID, events.EventTypeSessionCreated, membership.Participant.Name,
		events.SessionCreatedPayload{DeckType: string(membership.Meta.DeckType), Admin: membership.Participant.Name})

	writeJSON(w, http.StatusCreated, membership)
}

// HandleJoin handles POST /api/sessions/{id}/participants.
func (h *SessionHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	membership, err := h.lobby.Join(r.Context(), r.PathValue("id"), req.Name, req.IsAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	h.dispatcher.emit(r.Context(), membership.SessionID, events.EventTypeParticipantJoined, membership.Participant.Name,
		events.ParticipantJoinedPayload{Name: membership.Participant.Name, IsAdmin: membership.Participant.IsAdmin})

	writeJSON(w, http.StatusCreated, membership)
}

// HandleState handles GET /api/sessions/{id}/state. The viewer named in
// the participant header sees their own vote.
func (h *SessionHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	h.withRoom(w, r, func(room *Room) {
		view := BuildView(room.State.Snapshot(), r.Header.Get(headerParticipantName))
		writeJSON(w, http.StatusOK, view)
	})
}

// HandleStats handles GET /api/sessions/{id}/stats.
func (h *SessionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.withRoom(w, r, func(room *Room) {
		snap := room.State.Snapshot()
		if !snap.Revealed {
			writeError(w, errVotesHidden)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{
			SessionID: snap.SessionID,
			ItemID:    snap.CurrentItemID(),
			Stats:     newStatsView(snap.Votes),
		})
	})
}

// command returns a handler running typ for the participant named in the
// request headers. The response is sent once the resulting writes have
// reached the store; a failed write answers 502.
func (h *SessionHandler) command(typ CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd Command
		if err := decodeBody(r, &cmd); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		cmd.Type = typ
		isAdmin, _ := strconv.ParseBool(r.Header.Get(headerParticipantAdmin))
		actor := voting.Actor{Name: r.Header.Get(headerParticipantName), IsAdmin: isAdmin}

		h.withRoom(w, r, func(room *Room) {
			mark := room.Adapter.Mark()
			res, err := h.dispatcher.Execute(r.Context(), room, actor, cmd)
			if err != nil {
				writeError(w, err)
				return
			}
			if res.Changed {
				if err := room.Adapter.FlushFrom(r.Context(), mark); err != nil {
					writeError(w, fmt.Errorf("store write failed: %w", err))
					return
				}
			}
			writeJSON(w, http.StatusOK, CommandResult{RequestID: cmd.RequestID, Changed: res.Changed, Notice: res.Notice})
		})
	}
}

// withRoom runs fn with the loaded room of the session in the path.
func (h *SessionHandler) withRoom(w http.ResponseWriter, r *http.Request, fn func(room *Room)) {
	id := models.NormalizeSessionID(r.PathValue("id"))
	ok, err := h.lobby.Exists(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, lobby.ErrSessionNotFound)
		return
	}

	room, err := h.rooms.Acquire(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to load room")
		writeError(w, err)
		return
	}
	defer h.rooms.Release(room)
	fn(room)
}

// decodeBody reads an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
