package store

import (
	"context"
	"fmt"
	"time"
)

// Event is an append-only audit record written whenever a task's status
// changes or is materially annotated. The pair (FromStatus, ToStatus) for a
// single task, ordered by ID, must always be a walk of the allowed
// transition set in internal/task.
type Event struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	Timestamp  time.Time `json:"timestamp"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Message    string    `json:"message"`
}

// Events returns the audit trail for a task in insertion order.
func (s *Store) Events(ctx context.Context, taskID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, timestamp, from_status, to_status, message
		FROM task_events
		WHERE task_id = ?
		ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ts string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &ts, &e.FromStatus, &e.ToStatus, &e.Message); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if e.Timestamp, err = parseUTC(ts); err != nil {
			return nil, fmt.Errorf("store: parse event timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
