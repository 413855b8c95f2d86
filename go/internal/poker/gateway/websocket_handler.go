package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/poker/events"
	"github.com/mcdev12/planningpoker/go/internal/poker/lobby"
)

// WebSocketHandler joins participants to sessions over WebSocket
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             *RoomManager
	lobby             *lobby.Lobby
	dispatcher        *Dispatcher
}

func NewWebSocketHandler(cm *ConnectionManager, rooms *RoomManager, l *lobby.Lobby, dispatcher *Dispatcher) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             rooms,
		lobby:             l,
		dispatcher:        dispatcher,
	}
}

// HandleSessionConnection handles GET /ws/session?session=ID&name=N&admin=true.
// The participant is (re)joined before the upgrade so a vanished session is
// reported as a plain 404.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	name := query.Get("name")
	asAdmin, _ := strconv.ParseBool(query.Get("admin"))

	membership, err := h.lobby.Join(r.Context(), query.Get("session"), name, asAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	h.dispatcher.emit(r.Context(), membership.SessionID, events.EventTypeParticipantJoined, membership.Participant.Name,
		events.ParticipantJoinedPayload{Name: membership.Participant.Name, IsAdmin: membership.Participant.IsAdmin})

	room, err := h.rooms.Acquire(r.Context(), membership.SessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", membership.SessionID).Msg("failed to load room")
		writeError(w, err)
		return
	}

	p := membership.Participant
	if err := h.connectionManager.UpgradeConnection(w, r, room, p.Name, p.IsAdmin); err != nil {
		h.rooms.Release(room)
		log.Error().
			Err(err).
			Str("session_id", membership.SessionID).
			Str("participant", p.Name).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()
	stats["loaded_rooms"] = h.rooms.Count()
	writeJSON(w, http.StatusOK, stats)
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
