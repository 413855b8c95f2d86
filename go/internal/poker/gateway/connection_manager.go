package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/planningpoker/go/internal/poker/metrics"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

// ServerEventType names messages sent to WebSocket clients.
type ServerEventType string

const (
	ServerEventState  ServerEventType = "state"
	ServerEventAck    ServerEventType = "ack"
	ServerEventNotice ServerEventType = "notice"
	ServerEventError  ServerEventType = "error"
)

// ServerEvent is one message to a client.
type ServerEvent struct {
	Type      ServerEventType `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	State     *SessionView    `json:"state,omitempty"`
	Result    *CommandResult  `json:"result,omitempty"`
	Message   string          `json:"message,omitempty"`
	Code      int             `json:"code,omitempty"`
}

// ConnectionManager manages WebSocket connections grouped by session
type ConnectionManager struct {
	sessionConnections map[string]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	rooms      *RoomManager
	dispatcher *Dispatcher
	recorder   metrics.Recorder

	// Each message asks for a fresh state push to one session
	broadcastCh chan *Room
}

// Connection represents a WebSocket connection to a participant
type Connection struct {
	ID      string
	Name    string
	IsAdmin bool
	Room    *Room
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	limiter *rate.Limiter

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	// CommandRate and CommandBurst limit commands per connection.
	CommandRate  rate.Limit
	CommandBurst int
	CheckOrigin  func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		CommandRate:     rate.Limit(10),
		CommandBurst:    20,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, rooms *RoomManager, dispatcher *Dispatcher, recorder metrics.Recorder) *ConnectionManager {
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		rooms:       rooms,
		dispatcher:  dispatcher,
		recorder:    recorder,
		broadcastCh: make(chan *Room, 1000),
	}
}

// Start processes broadcasts until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case room := <-cm.broadcastCh:
			cm.handleBroadcast(room)
		}
	}
}

// UpgradeConnection upgrades the request and attaches it to room. The
// connection owns the room reference from then on. The upgrader has
// already answered the request when an error is returned.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, room *Room, name string, isAdmin bool) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Name:        name,
		IsAdmin:     isAdmin,
		Room:        room,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		limiter:     rate.NewLimiter(cm.config.CommandRate, cm.config.CommandBurst),
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)
	connection.sendState()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant", name).
		Str("session_id", room.ID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	id := conn.Room.ID
	if cm.sessionConnections[id] == nil {
		cm.sessionConnections[id] = make(map[*Connection]bool)
	}
	cm.sessionConnections[id][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", id).
		Int("total_connections", len(cm.sessionConnections[id])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and releases its room. Safe to
// call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.Room.ID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.Room.ID)
	}
	cm.mu.Unlock()

	cm.rooms.Release(conn.Room)

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant", conn.Name).
		Str("session_id", conn.Room.ID).
		Msg("connection unregistered")
}

// BroadcastState queues a state push to every connection in room.
func (cm *ConnectionManager) BroadcastState(room *Room) {
	select {
	case cm.broadcastCh <- room:
	default:
		log.Warn().Str("session_id", room.ID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(room *Room) {
	cm.mu.RLock()
	connections, exists := cm.sessionConnections[room.ID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	snap := room.State.Snapshot()
	payloads := make(map[string][]byte, len(targets))
	for _, conn := range targets {
		data, ok := payloads[conn.Name]
		if !ok {
			view := BuildView(snap, conn.Name)
			var err error
			data, err = json.Marshal(ServerEvent{Type: ServerEventState, State: &view})
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal state for broadcast")
				return
			}
			payloads[conn.Name] = data
		}
		if !conn.trySend(data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("participant", conn.Name).
				Msg("connection send buffer full, closing connection")
			cm.recorder.RecordDroppedConnection()
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
	cm.recorder.RecordBroadcast(len(targets))

	log.Debug().
		Str("session_id", room.ID).
		Uint64("version", snap.Version).
		Int("connections", len(targets)).
		Msg("state broadcasted")
}

// Count returns the number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	total := 0
	for _, connections := range cm.sessionConnections {
		total += len(connections)
	}
	return total
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	sessionCounts := make(map[string]int)
	for id, connections := range cm.sessionConnections {
		total += len(connections)
		sessionCounts[id] = len(connections)
	}

	return map[string]any{
		"total_connections":   total,
		"active_sessions":     len(cm.sessionConnections),
		"session_connections": sessionCounts,
	}
}

// CloseAll closes every connection. Pumps unregister them as they exit.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.sessionConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// trySend queues data without blocking. Send is only closed under the
// manager lock, so holding the read lock keeps it open here.
func (c *Connection) trySend(data []byte) bool {
	c.Manager.mu.RLock()
	defer c.Manager.mu.RUnlock()
	if !c.Manager.sessionConnections[c.Room.ID][c] {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) sendEvent(event ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal event")
		return
	}
	if !c.trySend(data) {
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, dropping reply")
	}
}

func (c *Connection) sendState() {
	view := BuildView(c.Room.State.Snapshot(), c.Name)
	c.sendEvent(ServerEvent{Type: ServerEventState, State: &view})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage runs one command and answers the sender.
func (c *Connection) handleClientMessage(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendEvent(ServerEvent{Type: ServerEventError, Message: "malformed command", Code: http.StatusBadRequest})
		return
	}
	if !c.limiter.Allow() {
		c.sendEvent(ServerEvent{
			Type:      ServerEventError,
			RequestID: cmd.RequestID,
			Message:   "too many commands",
			Code:      http.StatusTooManyRequests,
		})
		return
	}

	actor := voting.Actor{Name: c.Name, IsAdmin: c.IsAdmin}
	res, err := c.Manager.dispatcher.Execute(context.Background(), c.Room, actor, cmd)
	if err != nil {
		c.sendEvent(ServerEvent{
			Type:      ServerEventError,
			RequestID: cmd.RequestID,
			Message:   err.Error(),
			Code:      statusFor(err),
		})
		return
	}

	result := &CommandResult{RequestID: cmd.RequestID, Changed: res.Changed, Notice: res.Notice}
	if res.Notice != "" {
		c.sendEvent(ServerEvent{Type: ServerEventNotice, RequestID: cmd.RequestID, Result: result, Message: res.Notice})
		return
	}
	c.sendEvent(ServerEvent{Type: ServerEventAck, RequestID: cmd.RequestID, Result: result})
}
