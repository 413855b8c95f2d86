package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

const healthProbePath = "health"

type HealthStatus struct {
	Healthy        bool     `json:"healthy"`
	StoreReachable bool     `json:"store_reachable"`
	LoadedRooms    int      `json:"loaded_rooms"`
	Connections    int      `json:"connections"`
	Errors         []string `json:"errors"`
}

// HealthChecker reports whether the store answers reads.
type HealthChecker struct {
	store   store.Store
	rooms   *RoomManager
	conns   *ConnectionManager
	timeout time.Duration
}

func NewHealthChecker(s store.Store, rooms *RoomManager, conns *ConnectionManager) *HealthChecker {
	return &HealthChecker{store: s, rooms: rooms, conns: conns, timeout: 2 * time.Second}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:     true,
		LoadedRooms: h.rooms.Count(),
		Connections: h.conns.Count(),
		Errors:      []string{},
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if _, err := h.store.Read(ctx, healthProbePath); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("store read failed: %v", err))
	} else {
		status.StoreReachable = true
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
