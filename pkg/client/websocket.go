package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType names a lifecycle event on the stream. The values mirror the
// server's event channels.
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskCanceled  EventType = "task.canceled"
)

// Event is one message from the server's event stream.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// WebSocketClient maintains the /ws connection and delivers events on a
// buffered channel.
type WebSocketClient struct {
	baseURL   string
	apiKey    string
	conn      *websocket.Conn
	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
}

func newWebSocketClient(baseURL, apiKey string) *WebSocketClient {
	return &WebSocketClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		events:  make(chan *Event, 100),
		done:    make(chan struct{}),
	}
}

// Connect dials the server's /ws endpoint. Connecting twice is a no-op.
func (ws *WebSocketClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return fmt.Errorf("client: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	headers := http.Header{}
	if ws.apiKey != "" {
		headers.Set("X-API-Key", ws.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("client: websocket dial: %w", err)
	}

	ws.conn = conn
	ws.connected = true
	go ws.readLoop()

	return nil
}

func (ws *WebSocketClient) readLoop() {
	defer func() {
		ws.mu.Lock()
		ws.connected = false
		ws.mu.Unlock()
		close(ws.events)
	}()

	for {
		select {
		case <-ws.done:
			return
		default:
		}

		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		select {
		case ws.events <- &event:
		case <-ws.done:
			return
		default:
			// Full buffer: shed the oldest event to keep the stream live.
			select {
			case <-ws.events:
			default:
			}
			ws.events <- &event
		}
	}
}

// Events returns the delivery channel. It closes when the connection
// ends.
func (ws *WebSocketClient) Events() <-chan *Event {
	return ws.events
}

// IsConnected reports whether the stream is currently open.
func (ws *WebSocketClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}

// Subscribe narrows the server-side fan-out to the given event types.
func (ws *WebSocketClient) Subscribe(eventTypes ...EventType) error {
	return ws.sendAction("subscribe", eventTypes)
}

// Unsubscribe removes event types from the subscription.
func (ws *WebSocketClient) Unsubscribe(eventTypes ...EventType) error {
	return ws.sendAction("unsubscribe", eventTypes)
}

func (ws *WebSocketClient) sendAction(action string, eventTypes []EventType) error {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	if !ws.connected || ws.conn == nil {
		return fmt.Errorf("client: websocket not connected")
	}

	names := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		names[i] = string(et)
	}

	return ws.conn.WriteJSON(map[string]interface{}{
		"action":      action,
		"event_types": names,
	})
}

// Close tears the connection down.
func (ws *WebSocketClient) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			err = ws.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = ws.conn.Close()
		}
	})
	return err
}
