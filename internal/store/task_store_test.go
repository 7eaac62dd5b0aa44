package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-orchestrator/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, taskType, idemKey string) *task.Task {
	t.Helper()
	tk := task.New(taskType, json.RawMessage(`{"n":1}`), idemKey, 0, 3)
	require.NoError(t, s.Create(context.Background(), tk))
	return tk
}

func TestCreatePromotesToQueued(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "cpu_burn", "")
	assert.Equal(t, task.StatusQueued, tk.Status)

	loaded, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, loaded.Status)
	assert.Equal(t, `{"n":1}`, string(loaded.Payload))
	assert.Equal(t, 3, loaded.MaxAttempts)
	assert.Zero(t, loaded.Attempts)

	// Both birth events landed in the one transaction.
	events, err := s.Events(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "PENDING", events[0].FromStatus)
	assert.Equal(t, "PENDING", events[0].ToStatus)
	assert.Equal(t, "created", events[0].Message)
	assert.Equal(t, "PENDING", events[1].FromStatus)
	assert.Equal(t, "QUEUED", events[1].ToStatus)
	assert.Equal(t, "enqueued", events[1].Message)
}

func TestCreateIdempotencyConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "cpu_burn", "k1")

	dup := task.New("cpu_burn", json.RawMessage(`{}`), "k1", 0, 3)
	err := s.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)

	// Same key under a different type is a different logical request.
	other := task.New("http_fetch", json.RawMessage(`{}`), "k1", 0, 3)
	assert.NoError(t, s.Create(ctx, other))

	// Keyless tasks never collide.
	assert.NoError(t, s.Create(ctx, task.New("cpu_burn", json.RawMessage(`{}`), "", 0, 3)))
	assert.NoError(t, s.Create(ctx, task.New("cpu_burn", json.RawMessage(`{}`), "", 0, 3)))
}

func TestGetByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByIdempotencyKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, "data_transform", "key-9")

	found, err := s.FindByIdempotencyKey(ctx, "data_transform", "key-9")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = s.FindByIdempotencyKey(ctx, "data_transform", "other")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindByIdempotencyKey(ctx, "cpu_burn", "key-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDueTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	early := mustCreate(t, s, "a", "")
	late := mustCreate(t, s, "b", "")
	future := mustCreate(t, s, "c", "")
	running := mustCreate(t, s, "d", "")

	// Spread next_run_at so ordering is observable.
	_, err := s.Transition(ctx, running.ID, task.StatusRunning, "claimed", nil)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE tasks SET next_run_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-2*time.Hour).Format(timeLayout), early.ID)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE tasks SET next_run_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour).Format(timeLayout), late.ID)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE tasks SET next_run_at = ? WHERE id = ?`,
		time.Now().UTC().Add(time.Hour).Format(timeLayout), future.ID)
	require.NoError(t, err)

	due, err := s.GetDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	// The limit truncates from the front of the order.
	one, err := s.GetDueTasks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, early.ID, one[0].ID)
}

func TestTransitionAppliesMutation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "x", "")

	_, err := s.Transition(ctx, tk.ID, task.StatusRunning, "picked up by worker", nil)
	require.NoError(t, err)

	next := time.Now().UTC().Add(30 * time.Second)
	updated, err := s.Transition(ctx, tk.ID, task.StatusQueued, "retry scheduled", func(u *task.Task) {
		u.Attempts = 1
		u.LastError = "boom"
		u.NextRunAt = next
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, updated.Status)
	assert.Equal(t, 1, updated.Attempts)
	assert.Equal(t, "boom", updated.LastError)
	assert.WithinDuration(t, next, updated.NextRunAt, time.Millisecond)

	loaded, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Equal(t, "boom", loaded.LastError)
	assert.Equal(t, time.UTC, loaded.NextRunAt.Location())
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "x", "")

	// QUEUED -> COMPLETED skips RUNNING.
	_, err := s.Transition(ctx, tk.ID, task.StatusCompleted, "nope", nil)
	assert.ErrorIs(t, err, ErrConflict)

	// Record untouched, no event appended.
	loaded, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, loaded.Status)

	events, err := s.Events(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTransitionRejectsTerminalEgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "x", "")
	_, err := s.Transition(ctx, tk.ID, task.StatusCanceled, "canceled via API", nil)
	require.NoError(t, err)

	for _, to := range []task.Status{task.StatusQueued, task.StatusRunning, task.StatusCompleted} {
		_, err := s.Transition(ctx, tk.ID, to, "escape attempt", nil)
		assert.ErrorIs(t, err, ErrConflict, "CANCELED -> %s", to)
	}
}

func TestTransitionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Transition(context.Background(), "missing", task.StatusCanceled, "x", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionEventPerChange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "x", "")
	_, err := s.Transition(ctx, tk.ID, task.StatusRunning, "picked up by worker", nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, tk.ID, task.StatusCompleted, "handler success", func(u *task.Task) {
		u.Result = json.RawMessage(`{"ok":true}`)
	})
	require.NoError(t, err)

	events, err := s.Events(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// The event stream is a walk of the allowed transition set.
	for _, e := range events {
		from, ok := task.ParseStatus(e.FromStatus)
		require.True(t, ok)
		to, ok := task.ParseStatus(e.ToStatus)
		require.True(t, ok)
		if from != to {
			assert.True(t, task.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestListPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Insert 25 tasks with strictly increasing created_at.
	base := time.Now().UTC().Add(-time.Hour)
	ids := make(map[string]bool, 25)
	for i := 0; i < 25; i++ {
		tk := mustCreate(t, s, fmt.Sprintf("type-%d", i), "")
		ts := base.Add(time.Duration(i) * time.Second).Format(timeLayout)
		_, err := s.db.Exec(`UPDATE tasks SET created_at = ? WHERE id = ?`, ts, tk.ID)
		require.NoError(t, err)
		ids[tk.ID] = true
	}

	var (
		cursor *Cursor
		seen   []*task.Task
		pages  int
	)
	for {
		items, next, err := s.List(ctx, nil, 10, cursor)
		require.NoError(t, err)
		seen = append(seen, items...)
		pages++
		if next == nil {
			break
		}
		cursor = next
	}

	// 25 rows at page size 10: two full pages, then a page of 5 that
	// reports no next cursor because List probes one row past the limit.
	assert.LessOrEqual(t, pages, 3)
	require.Len(t, seen, 25)

	// No duplicates, full coverage.
	unique := map[string]bool{}
	for _, tk := range seen {
		assert.False(t, unique[tk.ID], "duplicate %s", tk.ID)
		unique[tk.ID] = true
		assert.True(t, ids[tk.ID])
	}

	// Order is created_at DESC, id DESC.
	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		after := cur.CreatedAt.Before(prev.CreatedAt) ||
			(cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID < prev.ID)
		assert.True(t, after, "rows %d/%d out of order", i-1, i)
	}
}

func TestListStatusFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "x", "")
	mustCreate(t, s, "y", "")

	_, err := s.Transition(ctx, a.ID, task.StatusRunning, "picked up by worker", nil)
	require.NoError(t, err)

	running := task.StatusRunning
	items, next, err := s.List(ctx, &running, 10, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
}

func TestTimestampsRoundTripUTC(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "x", "")
	loaded, err := s.GetByID(ctx, tk.ID)
	require.NoError(t, err)

	assert.Equal(t, time.UTC, loaded.CreatedAt.Location())
	assert.Equal(t, time.UTC, loaded.UpdatedAt.Location())
	assert.Equal(t, time.UTC, loaded.NextRunAt.Location())
	assert.WithinDuration(t, tk.CreatedAt, loaded.CreatedAt, time.Millisecond)
}
