package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/maumercado/task-orchestrator/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the dashboard's host is settled.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /ws requests into hub-managed connections.
type Handler struct {
	hub *Hub
}

// NewHandler creates a WebSocket upgrade handler bound to hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS upgrades the connection, registers the client, and starts its
// read/write pumps. Clients begin subscribed to every event type and can
// narrow their subscription over the wire.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn)
	client.SubscribeAll()
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Info().
		Str("client_id", client.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket client connected")
}
