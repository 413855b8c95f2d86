// Package gateway exposes planning poker sessions over HTTP and WebSocket.
package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/poker/events"
	"github.com/mcdev12/planningpoker/go/internal/poker/lobby"
	"github.com/mcdev12/planningpoker/go/internal/poker/metrics"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

// Service wires rooms, connections and handlers together
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	sessionHandler    *SessionHandler
	rooms             *RoomManager
	health            *HealthChecker
	publisher         events.Publisher
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	RoomConfig       RoomConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RoomConfig:       DefaultRoomConfig(),
	}
}

type Option func(*options)

type options struct {
	clock     clockwork.Clock
	publisher events.Publisher
	recorder  metrics.Recorder
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func NewService(config Config, s store.Store, opts ...Option) *Service {
	o := options{
		clock:     clockwork.NewRealClock(),
		publisher: events.LogPublisher{},
		recorder:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	svc := &Service{publisher: o.publisher}
	dispatcher := NewDispatcher(o.publisher, o.recorder, o.clock)
	svc.rooms = NewRoomManager(config.RoomConfig, s, o.clock, o.recorder, func(room *Room) {
		svc.connectionManager.BroadcastState(room)
	})
	svc.connectionManager = NewConnectionManager(config.ConnectionConfig, svc.rooms, dispatcher, o.recorder)

	l := lobby.New(s, o.clock)
	svc.wsHandler = NewWebSocketHandler(svc.connectionManager, svc.rooms, l, dispatcher)
	svc.sessionHandler = NewSessionHandler(l, svc.rooms, dispatcher)
	svc.health = NewHealthChecker(s, svc.rooms, svc.connectionManager)
	return svc
}

// Start runs the broadcaster until ctx is cancelled, then stops the service.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting poker gateway service")

	go s.connectionManager.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("poker gateway service shutting down")
	return s.Stop()
}

// Stop closes connections, flushes and unloads every room.
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	s.rooms.Close()
	if err := s.publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}
	log.Info().Msg("poker gateway service stopped")
	return nil
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.sessionHandler.RegisterRoutes(mux)
	mux.Handle("GET /health", s.health)
	log.Info().Msg("poker gateway routes registered")
}

// Sessions returns the number of loaded sessions.
func (s *Service) Sessions() int { return s.rooms.Count() }

// Connections returns the number of open WebSocket connections.
func (s *Service) Connections() int { return s.connectionManager.Count() }

func (s *Service) GetStats() map[string]any {
	stats := s.connectionManager.GetConnectionStats()
	stats["loaded_rooms"] = s.rooms.Count()
	stats["service"] = "poker_gateway"
	stats["status"] = "running"
	return stats
}
