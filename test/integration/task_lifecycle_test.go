//go:build integration
// +build integration

// Package integration exercises the full stack end to end: HTTP API,
// SQLite store, Redis queue and lock, scheduler, and worker pool. It
// needs a Redis instance on localhost:6379 and uses DB 15, which it
// flushes. Run with: go test -tags integration ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-orchestrator/internal/api"
	"github.com/maumercado/task-orchestrator/internal/config"
	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/submission"
	"github.com/maumercado/task-orchestrator/internal/task"
	"github.com/maumercado/task-orchestrator/internal/worker"
	"github.com/maumercado/task-orchestrator/pkg/client"
)

const testAPIKey = "integration-test-key"

func init() {
	logger.Init("error", false)
}

// stack is one fully wired deployment: API server, scheduler, and a
// worker pool, all sharing a store and a uniquely named queue.
type stack struct {
	store  *store.Store
	queue  *queue.RedisQueue
	lock   *queue.Lock
	pool   *worker.Pool
	sched  *queue.Scheduler
	server *httptest.Server
	client *client.TaskQueueClient
}

func newStack(t *testing.T, retry *task.RetryPolicy, register func(*worker.Executor)) *stack {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	db, err := store.Open(":memory:")
	require.NoError(t, err)

	queueName := fmt.Sprintf("test:%s:%d", t.Name(), time.Now().UnixNano())
	q, err := queue.NewRedisQueue(redisClient, queueName)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            0,
			MaxRequestBytes: 1 << 20,
		},
		Queue: config.QueueConfig{Name: queueName, DefaultMaxAttempts: 3},
		Worker: config.WorkerConfig{
			Concurrency:       2,
			PollTimeout:       200 * time.Millisecond,
			LockTTL:           10 * time.Second,
			HandlerTimeout:    5 * time.Second,
			HeartbeatInterval: time.Second,
			HeartbeatTimeout:  3 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Scheduler: config.SchedulerConfig{Interval: 100 * time.Millisecond},
		Metrics:   config.MetricsConfig{Enabled: false},
		Auth:      config.AuthConfig{APIKey: testAPIKey},
	}

	lock := queue.NewLock(redisClient, cfg.Worker.LockTTL)
	publisher := events.NewRedisPubSub(redisClient)

	executor := worker.NewExecutor()
	worker.RegisterBuiltinHandlers(executor, nil)
	if register != nil {
		register(executor)
	}

	pool := worker.NewPool(&cfg.Worker, db, q, lock, executor, retry, publisher)
	sched := queue.NewScheduler(db, q, cfg.Scheduler.Interval)

	sub := submission.New(db, q, cfg.Queue.DefaultMaxAttempts).WithPublisher(publisher)
	apiServer := api.NewServer(cfg, db, q, sub, publisher)
	httpServer := httptest.NewServer(apiServer)

	runCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, pool.Start(runCtx))
	sched.Start(runCtx)

	c, err := client.New(httpServer.URL, client.WithAPIKey(testAPIKey))
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		sched.Stop()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		pool.Stop(stopCtx)
		httpServer.Close()
		redisClient.FlushDB(context.Background())
		redisClient.Close()
		db.Close()
	})

	return &stack{store: db, queue: q, lock: lock, pool: pool, sched: sched, server: httpServer, client: c}
}

func (s *stack) waitForStatus(t *testing.T, taskID, want string, timeout time.Duration) *client.Task {
	t.Helper()

	var last *client.Task
	require.Eventually(t, func() bool {
		got, err := s.client.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		last = got
		return got.Status == want
	}, timeout, 50*time.Millisecond, "task %s never reached %s (last: %+v)", taskID, want, last)
	return last
}

func TestHappyPath(t *testing.T) {
	s := newStack(t, nil, nil)
	ctx := context.Background()

	created, err := s.client.CreateTask(ctx, client.CreateTaskRequest{
		TaskType: "data_transform",
		Payload:  json.RawMessage(`{"data":{"a":1,"b":2},"select":["b"],"rename":{"b":"beta"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "QUEUED", created.Status)

	done := s.waitForStatus(t, created.ID, "COMPLETED", 10*time.Second)
	assert.Equal(t, 0, done.Attempts)
	assert.Empty(t, done.LastError)
	assert.JSONEq(t, `{"transformed":{"beta":2},"field_count":1}`, string(done.Result))
}

func TestIdempotentResubmission(t *testing.T) {
	s := newStack(t, nil, nil)
	ctx := context.Background()

	req := client.CreateTaskRequest{
		TaskType:       "cpu_burn",
		Payload:        json.RawMessage(`{"milliseconds":10}`),
		IdempotencyKey: "k1",
	}

	first, err := s.client.CreateTask(ctx, req)
	require.NoError(t, err)
	second, err := s.client.CreateTask(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	// One task record, one "created" event.
	list, err := s.client.ListTasks(ctx, client.ListTasksOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)

	events, err := s.store.Events(ctx, first.ID)
	require.NoError(t, err)
	created := 0
	for _, e := range events {
		if e.Message == "created" {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestRetryExhaustion(t *testing.T) {
	retry := &task.RetryPolicy{BaseSeconds: 0.05, MaxSeconds: 0.1, JitterSeconds: 0}
	s := newStack(t, retry, func(e *worker.Executor) {
		e.RegisterHandler("always_fails", func(context.Context, *task.Task) (map[string]interface{}, error) {
			return nil, errors.New("synthetic handler failure")
		})
	})
	ctx := context.Background()

	created, err := s.client.CreateTask(ctx, client.CreateTaskRequest{
		TaskType: "always_fails",
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	failed := s.waitForStatus(t, created.ID, "FAILED", 20*time.Second)
	assert.Equal(t, 3, failed.Attempts)
	assert.Contains(t, failed.LastError, "synthetic handler failure")
	assert.Empty(t, failed.Result)

	events, err := s.store.Events(ctx, created.ID)
	require.NoError(t, err)

	retries, failures := 0, 0
	for _, e := range events {
		if e.FromStatus == "RUNNING" && e.ToStatus == "QUEUED" {
			retries++
		}
		if e.FromStatus == "RUNNING" && e.ToStatus == "FAILED" {
			failures++
		}
	}
	assert.Equal(t, 2, retries)
	assert.Equal(t, 1, failures)
}

func TestCancelWhileQueued(t *testing.T) {
	// A long retry backoff parks the task in QUEUED with next_run_at in
	// the future after its first failure.
	retry := &task.RetryPolicy{BaseSeconds: 60, MaxSeconds: 120, JitterSeconds: 0}
	s := newStack(t, retry, func(e *worker.Executor) {
		e.RegisterHandler("always_fails", func(context.Context, *task.Task) (map[string]interface{}, error) {
			return nil, errors.New("synthetic handler failure")
		})
	})
	ctx := context.Background()

	created, err := s.client.CreateTask(ctx, client.CreateTaskRequest{
		TaskType: "always_fails",
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	// Wait for the first failed attempt to land it back in QUEUED.
	require.Eventually(t, func() bool {
		got, err := s.client.GetTask(ctx, created.ID)
		return err == nil && got.Status == "QUEUED" && got.Attempts == 1
	}, 10*time.Second, 50*time.Millisecond)

	result, err := s.client.CancelTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", result.Status)

	// Simulate a stale queue entry: a worker that pops it must observe
	// the terminal status and release without executing.
	require.NoError(t, s.queue.Enqueue(ctx, created.ID, 0))
	time.Sleep(time.Second)

	got, err := s.client.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestCursorPagination(t *testing.T) {
	s := newStack(t, nil, nil)
	ctx := context.Background()

	ids := make(map[string]bool, 25)
	for i := 0; i < 25; i++ {
		created, err := s.client.CreateTask(ctx, client.CreateTaskRequest{
			TaskType: fmt.Sprintf("noop_%d", i),
			Payload:  json.RawMessage(`{}`),
		})
		require.NoError(t, err)
		ids[created.ID] = true
	}

	var (
		all    []*client.Task
		cursor string
		pages  int
	)
	for {
		page, err := s.client.ListTasks(ctx, client.ListTasksOptions{Limit: 10, Cursor: cursor})
		require.NoError(t, err)
		all = append(all, page.Items...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 10, "pagination did not terminate")
	}

	require.Len(t, all, 25)
	seen := map[string]bool{}
	for _, it := range all {
		assert.False(t, seen[it.ID], "duplicate %s", it.ID)
		seen[it.ID] = true
		assert.True(t, ids[it.ID], "unexpected task %s", it.ID)
	}

	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		ok := cur.CreatedAt.Before(prev.CreatedAt) ||
			(cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID < prev.ID)
		assert.True(t, ok, "rows %d/%d out of order", i-1, i)
	}
}

func TestCancelTerminalConflicts(t *testing.T) {
	s := newStack(t, nil, nil)
	ctx := context.Background()

	created, err := s.client.CreateTask(ctx, client.CreateTaskRequest{
		TaskType: "cpu_burn",
		Payload:  json.RawMessage(`{"milliseconds":5}`),
	})
	require.NoError(t, err)

	s.waitForStatus(t, created.ID, "COMPLETED", 10*time.Second)

	_, err = s.client.CancelTask(ctx, created.ID)
	require.Error(t, err)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)
}

func TestHealthAndAuth(t *testing.T) {
	s := newStack(t, nil, nil)
	ctx := context.Background()

	health, err := s.client.CheckHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health.OK)
	assert.True(t, health.Redis)

	// A client without the key is rejected.
	anon, err := client.New(s.server.URL)
	require.NoError(t, err)
	_, err = anon.GetTask(ctx, "whatever")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
}

func TestSchedulerRecoversLostEntry(t *testing.T) {
	s := newStack(t, nil, nil)
	ctx := context.Background()

	// Insert a QUEUED task directly, bypassing the queue publish — as if
	// the process had crashed between commit and enqueue.
	tk := task.New("cpu_burn", json.RawMessage(`{"milliseconds":5}`), "", 0, 3)
	require.NoError(t, s.store.Create(ctx, tk))

	// The scheduler's periodic scan republishes it and a worker runs it.
	s.waitForStatus(t, tk.ID, "COMPLETED", 10*time.Second)
}
