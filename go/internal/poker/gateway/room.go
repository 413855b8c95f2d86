package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/poker/metrics"
	"github.com/mcdev12/planningpoker/go/internal/poker/state"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/poker/syncer"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

var errRoomsClosed = errors.New("room manager closed")

// Room is the live state of one session in this process.
type Room struct {
	ID      string
	State   *state.State
	Adapter *syncer.Adapter
	Machine *voting.Machine

	refs  int
	ready chan struct{}
	err   error
	done  chan struct{}
	idle  clockwork.Timer
}

// RoomConfig holds room lifecycle settings
type RoomConfig struct {
	// IdleTimeout is how long a room with no users stays loaded.
	IdleTimeout  time.Duration
	FlushTimeout time.Duration
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		IdleTimeout:  30 * time.Second,
		FlushTimeout: 5 * time.Second,
	}
}

// RoomManager loads sessions on demand and unloads them once idle.
type RoomManager struct {
	store    store.Store
	clock    clockwork.Clock
	config   RoomConfig
	recorder metrics.Recorder
	onChange func(room *Room)

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewRoomManager(config RoomConfig, s store.Store, clock clockwork.Clock, recorder metrics.Recorder, onChange func(room *Room)) *RoomManager {
	if onChange == nil {
		onChange = func(*Room) {}
	}
	return &RoomManager{
		store:    s,
		clock:    clock,
		config:   config,
		recorder: recorder,
		onChange: onChange,
		rooms:    make(map[string]*Room),
	}
}

// Acquire returns the room for sessionID, loading it if needed. Every
// successful Acquire must be paired with a Release.
func (m *RoomManager) Acquire(ctx context.Context, sessionID string) (*Room, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errRoomsClosed
	}
	room, ok := m.rooms[sessionID]
	if ok {
		room.refs++
		if room.idle != nil {
			room.idle.Stop()
			room.idle = nil
		}
		m.mu.Unlock()

		select {
		case <-room.ready:
		case <-ctx.Done():
			m.Release(room)
			return nil, ctx.Err()
		}
		if room.err != nil {
			m.Release(room)
			return nil, room.err
		}
		return room, nil
	}

	room = m.newRoom(sessionID)
	m.rooms[sessionID] = room
	m.mu.Unlock()

	if err := room.Adapter.Start(ctx); err != nil {
		room.err = err
		close(room.ready)

		m.mu.Lock()
		if m.rooms[sessionID] == room {
			delete(m.rooms, sessionID)
		}
		m.mu.Unlock()
		room.Adapter.Close()
		return nil, err
	}
	close(room.ready)

	go m.watch(room)

	log.Info().Str("session_id", sessionID).Msg("room loaded")
	return room, nil
}

func (m *RoomManager) newRoom(sessionID string) *Room {
	st := state.New(sessionID)
	adapter := syncer.New(m.store, st, syncer.WithErrorHandler(func(err error) {
		m.recorder.RecordStoreWriteFailure()
	}))
	return &Room{
		ID:      sessionID,
		State:   st,
		Adapter: adapter,
		Machine: voting.New(st, adapter),
		refs:    1,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// watch forwards state changes until the room is unloaded.
func (m *RoomManager) watch(room *Room) {
	for {
		select {
		case <-room.done:
			return
		case <-room.State.Changes():
			m.onChange(room)
		}
	}
}

// Release drops one reference. The last release schedules the room for
// unloading after the idle timeout.
func (m *RoomManager) Release(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room.refs--
	if room.refs > 0 || m.rooms[room.ID] != room {
		return
	}
	room.idle = m.clock.AfterFunc(m.config.IdleTimeout, func() {
		m.evict(room)
	})
}

func (m *RoomManager) evict(room *Room) {
	m.mu.Lock()
	if room.refs > 0 || m.rooms[room.ID] != room {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, room.ID)
	m.mu.Unlock()

	m.unload(room)
}

func (m *RoomManager) unload(room *Room) {
	close(room.done)

	ctx, cancel := context.WithTimeout(context.Background(), m.config.FlushTimeout)
	defer cancel()
	if err := room.Adapter.Flush(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", room.ID).Msg("failed to flush room writes")
	}
	room.Adapter.Close()

	log.Info().Str("session_id", room.ID).Msg("room unloaded")
}

// Count returns the number of loaded rooms.
func (m *RoomManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Close unloads every room regardless of references.
func (m *RoomManager) Close() {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for id, room := range m.rooms {
		if room.idle != nil {
			room.idle.Stop()
		}
		delete(m.rooms, id)
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		<-room.ready
		if room.err == nil {
			m.unload(room)
		}
	}
}
