package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maumercado/task-orchestrator/internal/task"
)

// timeLayout is fixed-width RFC3339 in UTC, so the stored strings compare
// and sort in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Create persists a brand new task and, in the same transaction, performs
// the initial PENDING -> QUEUED promotion described in the submission
// algorithm: insert the row, append a "created" event, flip the status to
// QUEUED, append an "enqueued" event. The task passed in must be in
// task.StatusPending (as returned by task.New). On return, t.Status is
// StatusQueued and t.UpdatedAt reflects the commit time.
//
// Fails with ErrConflict if (task_type, idempotency_key) already exists.
func (s *Store) Create(ctx context.Context, t *task.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	idemKey := sql.NullString{}
	if t.IdempotencyKey != "" {
		idemKey = sql.NullString{String: t.IdempotencyKey, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, task_type, payload, status, priority, idempotency_key,
			attempts, max_attempts, created_at, updated_at, next_run_at,
			last_error, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, string(t.Payload), task.StatusPending.String(), t.Priority, idemKey,
		t.Attempts, t.MaxAttempts,
		t.CreatedAt.Format(timeLayout), t.UpdatedAt.Format(timeLayout), t.NextRunAt.Format(timeLayout),
		nullString(t.LastError), nullString(string(t.Result)),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("store: insert task: %w", err)
	}

	if err := appendEvent(ctx, tx, t.ID, task.StatusPending, task.StatusPending, "created"); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		task.StatusQueued.String(), now.Format(timeLayout), t.ID); err != nil {
		return fmt.Errorf("store: promote to queued: %w", err)
	}
	if err := appendEvent(ctx, tx, t.ID, task.StatusPending, task.StatusQueued, "enqueued"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	t.Status = task.StatusQueued
	t.UpdatedAt = now
	return nil
}

// GetByID returns the task with the given id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

// FindByIdempotencyKey looks up the task store's unique index on
// (task_type, idempotency_key), the implementation of the idempotency
// index component. Returns ErrNotFound when no task carries that pair.
func (s *Store) FindByIdempotencyKey(ctx context.Context, taskType, key string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE task_type = ? AND idempotency_key = ?`, taskType, key)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by idempotency key: %w", err)
	}
	return t, nil
}

// GetDueTasks returns up to limit QUEUED tasks whose next_run_at has
// passed, ordered by next_run_at ascending, for the scheduler's periodic
// republish pass.
func (s *Store) GetDueTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	now := time.Now().UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx, taskSelectColumns+`
		FROM tasks
		WHERE status = ? AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?`, task.StatusQueued.String(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query due tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Transition validates and applies a single state-machine edge inside one
// transaction: load the current row, check (from, to) against the closed
// transition set, let mutate adjust any other fields (attempts, result,
// last_error, next_run_at), bump updated_at, write the row, append exactly
// one Event, commit. Returns the task as it now stands in the store.
//
// Returns ErrNotFound if the task does not exist, ErrConflict if the
// transition is not in the allowed set (including attempting to leave a
// terminal state).
func (s *Store) Transition(ctx context.Context, id string, to task.Status, message string, mutate func(*task.Task)) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load for transition: %w", err)
	}

	from := t.Status
	if !task.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s", ErrConflict, task.ErrInvalidTransition)
	}

	t.Status = to
	if mutate != nil {
		mutate(t)
	}
	t.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?, attempts = ?, updated_at = ?, next_run_at = ?,
			last_error = ?, result = ?
		WHERE id = ?`,
		t.Status.String(), t.Attempts, t.UpdatedAt.Format(timeLayout), t.NextRunAt.Format(timeLayout),
		nullString(t.LastError), nullString(string(t.Result)), t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: update task: %w", err)
	}

	if err := appendEvent(ctx, tx, t.ID, from, to, message); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	return t, nil
}

// Cursor identifies a position in the created_at DESC, id DESC listing
// order: the (created_at, id) of the last row already returned.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// List returns up to limit tasks matching the optional status filter,
// ordered created_at DESC, id DESC, continuing strictly after cursor when
// one is given. The second return value is the cursor for the next page,
// nil when no further rows exist. One extra row is fetched to decide
// that without a second query.
func (s *Store) List(ctx context.Context, status *task.Status, limit int, cursor *Cursor) ([]*task.Task, *Cursor, error) {
	var (
		where []string
		args  []interface{}
	)

	if status != nil {
		where = append(where, "status = ?")
		args = append(args, status.String())
	}
	if cursor != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		c := cursor.CreatedAt.UTC().Format(timeLayout)
		args = append(args, c, c, cursor.ID)
	}

	query := taskSelectColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	items, err := scanTasks(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *Cursor
	if len(items) > limit {
		items = items[:limit]
		last := items[limit-1]
		next = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return items, next, nil
}

const taskSelectColumns = `SELECT
	id, task_type, payload, status, priority, idempotency_key,
	attempts, max_attempts, created_at, updated_at, next_run_at,
	last_error, result`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scannable) (*task.Task, error) {
	var (
		t                               task.Task
		statusStr, payload              string
		idemKey, lastError, result      sql.NullString
		createdAt, updatedAt, nextRunAt string
	)

	if err := row.Scan(
		&t.ID, &t.Type, &payload, &statusStr, &t.Priority, &idemKey,
		&t.Attempts, &t.MaxAttempts, &createdAt, &updatedAt, &nextRunAt,
		&lastError, &result,
	); err != nil {
		return nil, err
	}

	status, ok := task.ParseStatus(statusStr)
	if !ok {
		return nil, fmt.Errorf("store: unrecognized status %q", statusStr)
	}
	t.Status = status
	t.Payload = json.RawMessage(payload)
	t.IdempotencyKey = idemKey.String
	t.LastError = lastError.String
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}

	var err error
	if t.CreatedAt, err = parseUTC(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseUTC(updatedAt); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	if t.NextRunAt, err = parseUTC(nextRunAt); err != nil {
		return nil, fmt.Errorf("store: parse next_run_at: %w", err)
	}

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx *sql.Tx, taskID string, from, to task.Status, message string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, timestamp, from_status, to_status, message)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, time.Now().UTC().Format(timeLayout), from.String(), to.String(), message)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// parseUTC parses a stored RFC3339 timestamp. SQLite has no native
// timestamp type; every value that enters here is one this package wrote
// itself, always in UTC, so there is no naive-timestamp ambiguity to
// compensate for on read.
func parseUTC(s string) (time.Time, error) {
	tm, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return tm.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
