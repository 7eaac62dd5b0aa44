package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/task"
)

type capturingQueue struct {
	entries []struct {
		taskID   string
		priority int
	}
}

func (q *capturingQueue) Enqueue(_ context.Context, taskID string, priority int) error {
	q.entries = append(q.entries, struct {
		taskID   string
		priority int
	}{taskID, priority})
	return nil
}

func schedulerFixture(t *testing.T) (*Scheduler, *store.Store, *capturingQueue) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := &capturingQueue{}
	return NewScheduler(s, q, time.Second), s, q
}

func createTask(t *testing.T, s *store.Store, priority int) *task.Task {
	t.Helper()
	tk := task.New("cpu_burn", json.RawMessage(`{}`), "", priority, 3)
	require.NoError(t, s.Create(context.Background(), tk))
	return tk
}

func TestTickRepublishesDueTasks(t *testing.T) {
	sched, s, q := schedulerFixture(t)
	ctx := context.Background()

	a := createTask(t, s, 5)
	b := createTask(t, s, -1)

	sched.tick(ctx)

	require.Len(t, q.entries, 2)
	got := map[string]int{}
	for _, e := range q.entries {
		got[e.taskID] = e.priority
	}
	assert.Equal(t, 5, got[a.ID])
	assert.Equal(t, -1, got[b.ID])
}

func TestTickSkipsFutureAndNonQueued(t *testing.T) {
	sched, s, q := schedulerFixture(t)
	ctx := context.Background()

	due := createTask(t, s, 0)

	// A retry whose backoff has not elapsed.
	future := createTask(t, s, 0)
	_, err := s.Transition(ctx, future.ID, task.StatusRunning, "picked up by worker", nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, future.ID, task.StatusQueued, "retry scheduled", func(u *task.Task) {
		u.Attempts = 1
		u.NextRunAt = time.Now().UTC().Add(time.Hour)
	})
	require.NoError(t, err)

	// A task already claimed by a worker.
	running := createTask(t, s, 0)
	_, err = s.Transition(ctx, running.ID, task.StatusRunning, "picked up by worker", nil)
	require.NoError(t, err)

	// A terminal task.
	canceled := createTask(t, s, 0)
	_, err = s.Transition(ctx, canceled.ID, task.StatusCanceled, "canceled via API", nil)
	require.NoError(t, err)

	sched.tick(ctx)

	require.Len(t, q.entries, 1)
	assert.Equal(t, due.ID, q.entries[0].taskID)
}

func TestTickIsIdempotent(t *testing.T) {
	sched, s, q := schedulerFixture(t)
	ctx := context.Background()

	createTask(t, s, 0)

	// Double-enqueue is allowed; the worker claim protocol filters it.
	sched.tick(ctx)
	sched.tick(ctx)
	assert.Len(t, q.entries, 2)
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	q := &capturingQueue{}
	sched := NewScheduler(s, q, 10*time.Millisecond)

	createTask(t, s, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	// The immediate first tick plus at least one interval tick.
	assert.GreaterOrEqual(t, len(q.entries), 2)
}
