// Package websocket relays the task lifecycle event stream to browser
// and SDK observers. The hub subscribes once to Redis pub/sub and fans
// events out to every connected client; a client that cannot keep up is
// disconnected rather than allowed to stall the broadcast.
package websocket

import (
	"context"
	"sync"

	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/metrics"
)

// Hub tracks connected clients and broadcasts events to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	broadcast  chan *events.Event
	register   chan *Client
	unregister chan *Client
	source     *events.RedisPubSub
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub builds a hub fed by the given pub/sub source.
func NewHub(source *events.RedisPubSub) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *events.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to the event stream and serves registrations and
// broadcasts until ctx is done or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	eventCh, err := h.source.SubscribeAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("websocket hub could not subscribe to event stream")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-eventCh:
				if !ok {
					return
				}
				h.Broadcast(event)
			}
		}
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.dropAllClients()
				return
			case <-h.stopCh:
				h.dropAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = struct{}{}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("websocket client joined")
			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("websocket client left")
			case event := <-h.broadcast:
				h.fanOut(event)
			}
		}
	}()

	logger.Info().Msg("websocket hub started")
}

// Stop shuts down the hub and disconnects every client.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	logger.Info().Msg("websocket hub stopped")
}

// Register hands a new client to the hub loop.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub loop.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues an event for fan-out, dropping it when the hub is
// saturated.
func (h *Hub) Broadcast(event *events.Event) {
	select {
	case h.broadcast <- event:
	default:
		logger.Warn().Str("event_type", string(event.Type)).Msg("hub saturated, event dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(event *events.Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("unserializable event on broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.IsSubscribed(event.Type) {
			continue
		}

		select {
		case client.send <- data:
			metrics.RecordWebSocketMessage(string(event.Type))
		default:
			// Slow consumer: schedule removal rather than block the hub.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) dropAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
