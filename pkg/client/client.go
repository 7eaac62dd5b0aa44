package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Task is the wire representation of a task record.
type Task struct {
	ID             string          `json:"id"`
	TaskType       string          `json:"task_type"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	NextRunAt      time.Time       `json:"next_run_at"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Priority       int             `json:"priority"`
	LastError      string          `json:"last_error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CreateTaskRequest is the body of POST /v1/tasks.
type CreateTaskRequest struct {
	TaskType       string          `json:"task_type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       *int            `json:"priority,omitempty"`
}

// TaskList is one page of GET /v1/tasks.
type TaskList struct {
	Items      []*Task `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// ListTasksOptions filters and paginates ListTasks.
type ListTasksOptions struct {
	Status string
	Limit  int
	Cursor string
}

// CancelResult is the body of a successful POST /v1/tasks/{id}/cancel.
type CancelResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Health is the body of GET /v1/health.
type Health struct {
	OK    bool `json:"ok"`
	Redis bool `json:"redis"`
}

// APIError is a non-2xx response decoded from the server's error shape.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// TaskQueueClient talks to the orchestrator's HTTP API.
type TaskQueueClient struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New builds a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*TaskQueueClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &TaskQueueClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    o,
		ws:      newWebSocketClient(baseURL, o.apiKey),
	}, nil
}

// CreateTask submits a new task and returns the persisted record. Given
// an idempotency key, a repeat call returns the original record.
func (c *TaskQueueClient) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask fetches a task by id.
func (c *TaskQueueClient) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns one page of tasks, newest first. Pass the returned
// NextCursor back in to continue.
func (c *TaskQueueClient) ListTasks(ctx context.Context, opts ListTasksOptions) (*TaskList, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}

	path := "/v1/tasks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out TaskList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask cancels a non-terminal task. A terminal task yields an
// APIError with StatusCode 409.
func (c *TaskQueueClient) CancelTask(ctx context.Context, taskID string) (*CancelResult, error) {
	var out CancelResult
	if err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckHealth reports API liveness and Redis reachability.
func (c *TaskQueueClient) CheckHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectWebSocket opens the real-time event stream.
func (c *TaskQueueClient) ConnectWebSocket(ctx context.Context) error {
	return c.ws.Connect(ctx)
}

// Events returns the channel the stream's events arrive on. The channel
// closes when the connection drops.
func (c *TaskQueueClient) Events() <-chan *Event {
	return c.ws.Events()
}

// SubscribeEvents narrows the stream to the given event types.
func (c *TaskQueueClient) SubscribeEvents(eventTypes ...EventType) error {
	return c.ws.Subscribe(eventTypes...)
}

// CloseWebSocket closes the event stream.
func (c *TaskQueueClient) CloseWebSocket() error {
	return c.ws.Close()
}

func (c *TaskQueueClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.opts.decorate(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
