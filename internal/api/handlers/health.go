package handlers

import (
	"net/http"

	"github.com/redis/go-redis/v9"
)

// HealthHandler serves GET /v1/health. The response reports overall
// liveness plus whether Redis is reachable; the store is consulted too,
// since a dead store means submissions cannot commit.
type HealthHandler struct {
	redis *redis.Client
	ping  func(r *http.Request) error
}

// NewHealthHandler builds a health handler. storePing may be nil when no
// durable store is attached (e.g. a queue-only deployment).
func NewHealthHandler(client *redis.Client, storePing func(r *http.Request) error) *HealthHandler {
	return &HealthHandler{redis: client, ping: storePing}
}

// HealthResponse is the wire shape of GET /v1/health.
type HealthResponse struct {
	OK    bool `json:"ok"`
	Redis bool `json:"redis"`
}

// Check handles GET /v1/health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{OK: true, Redis: true}

	if err := h.redis.Ping(r.Context()).Err(); err != nil {
		resp.Redis = false
	}
	if h.ping != nil {
		if err := h.ping(r); err != nil {
			resp.OK = false
		}
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
