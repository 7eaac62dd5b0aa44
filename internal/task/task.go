package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MinPriority and MaxPriority bound the advisory priority range accepted on
// submission.
const (
	MinPriority = -100
	MaxPriority = 100
)

// Task is the durable record persisted by the store. Payload and Result are
// kept as json.RawMessage so the client's document round-trips byte for
// byte instead of being re-marshaled through a generic map.
type Task struct {
	ID             string          `json:"id"`
	Type           string          `json:"task_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
	Priority       int             `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	NextRunAt      time.Time       `json:"next_run_at"`
	LastError      string          `json:"last_error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
}

// New constructs a fresh task in PENDING status, ready to be persisted and
// immediately transitioned to QUEUED by the submission service.
func New(taskType string, payload json.RawMessage, idempotencyKey string, priority, maxAttempts int) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:             uuid.New().String(),
		Type:           taskType,
		Payload:        payload,
		Status:         StatusPending,
		Priority:       priority,
		IdempotencyKey: idempotencyKey,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
		NextRunAt:      now,
	}
}

// CanRetry reports whether another attempt is permitted given attempts
// already recorded.
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// Response is the wire shape returned by the HTTP API.
type Response struct {
	ID             string          `json:"id"`
	Type           string          `json:"task_type"`
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

// ToResponse converts a Task into its wire representation.
func (t *Task) ToResponse() *Response {
	return &Response{
		ID:             t.ID,
		Type:           t.Type,
		Status:         t.Status.String(),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		NextRunAt:      t.NextRunAt,
		Attempts:       t.Attempts,
		MaxAttempts:    t.MaxAttempts,
		Priority:       t.Priority,
		LastError:      t.LastError,
		Result:         t.Result,
		IdempotencyKey: t.IdempotencyKey,
	}
}

// CreateRequest is the payload accepted by POST /v1/tasks.
type CreateRequest struct {
	TaskType       string          `json:"task_type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       *int            `json:"priority,omitempty"`
}
