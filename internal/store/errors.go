package store

import "errors"

var (
	// ErrNotFound is returned when a task lookup finds no matching row.
	ErrNotFound = errors.New("store: task not found")

	// ErrConflict is returned when an insert collides with the unique
	// (task_type, idempotency_key) index, or a transition is rejected by
	// the state machine.
	ErrConflict = errors.New("store: conflict")

	// ErrInvalidCursor is returned when a listing cursor cannot be decoded.
	ErrInvalidCursor = errors.New("store: invalid cursor")
)
