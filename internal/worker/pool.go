package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maumercado/task-orchestrator/internal/config"
	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/metrics"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/task"
)

// State represents the worker pool's current operational state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StatePaused
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Pool manages a pool of concurrent worker goroutines implementing the
// dequeue/claim/execute/report cycle: pop an id, acquire the exclusion
// lock, re-read and validate the record, transition to RUNNING, invoke
// the handler under a bounded timeout, and commit the outcome, releasing
// the lock unconditionally on every path.
type Pool struct {
	id             string
	store          *store.Store
	queue          *queue.RedisQueue
	lock           *queue.Lock
	executor       *Executor
	retry          *task.RetryPolicy
	heartbeat      *Heartbeat
	publisher      events.Publisher
	config         *config.WorkerConfig
	state          State
	stateMu        sync.RWMutex
	currentTasks   sync.Map
	wg             sync.WaitGroup
	stopCh         chan struct{}
	pauseCh        chan struct{}
	resumeCh       chan struct{}
	concurrencySem chan struct{}
}

// NewPool creates a worker pool consuming the shared queue with the given
// executor and retry policy. A nil retry policy falls back to the defaults.
func NewPool(cfg *config.WorkerConfig, s *store.Store, q *queue.RedisQueue, lock *queue.Lock, executor *Executor, retry *task.RetryPolicy, publisher events.Publisher) *Pool {
	workerID := cfg.ID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if executor == nil {
		executor = NewExecutor()
	}
	if retry == nil {
		retry = task.DefaultRetryPolicy()
	}

	p := &Pool{
		id:             workerID,
		store:          s,
		queue:          q,
		lock:           lock,
		executor:       executor,
		retry:          retry,
		publisher:      publisher,
		config:         cfg,
		state:          StateIdle,
		stopCh:         make(chan struct{}),
		pauseCh:        make(chan struct{}),
		resumeCh:       make(chan struct{}),
		concurrencySem: make(chan struct{}, cfg.Concurrency),
	}

	p.heartbeat = NewHeartbeat(q.Client(), workerID, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)

	return p
}

// Start begins the worker pool, spawning worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	p.heartbeat.SetConcurrency(p.config.Concurrency)
	p.heartbeat.SetState("busy")
	p.heartbeat.Start(ctx)

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	if p.config.RecoverySweepInterval > 0 {
		p.wg.Add(1)
		go p.recoveryLoop(ctx)
	}

	logger.Info().
		Str("worker_id", p.id).
		Int("concurrency", p.config.Concurrency).
		Msg("worker pool started")

	return nil
}

// Stop gracefully stops the worker pool, waiting for in-flight tasks.
func (p *Pool) Stop(ctx context.Context) error {
	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Str("worker_id", p.id).Msg("worker pool stopped gracefully")
	case <-time.After(p.config.ShutdownTimeout):
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown timed out")
	case <-ctx.Done():
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown canceled")
	}

	p.heartbeat.Stop()

	return nil
}

// Pause temporarily stops workers from fetching new tasks.
func (p *Pool) Pause() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.state == StateBusy {
		p.state = StatePaused
		close(p.pauseCh)
		p.pauseCh = make(chan struct{})
		logger.Info().Str("worker_id", p.id).Msg("worker pool paused")
	}
}

// Resume continues task processing after a pause.
func (p *Pool) Resume() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.state == StatePaused {
		p.state = StateBusy
		close(p.resumeCh)
		p.resumeCh = make(chan struct{})
		logger.Info().Str("worker_id", p.id).Msg("worker pool resumed")
	}
}

// State returns the current worker pool state.
func (p *Pool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// ID returns the worker pool's unique identifier.
func (p *Pool) ID() string {
	return p.id
}

// ActiveTasks returns the count of currently running tasks.
func (p *Pool) ActiveTasks() int {
	count := 0
	p.currentTasks.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (p *Pool) worker(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	log := logger.WithWorker(p.id)
	log.Info().Int("worker_num", workerNum).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if p.State() == StatePaused {
			select {
			case <-p.resumeCh:
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		if paused, _ := IsWorkerPaused(ctx, p.queue.Client(), p.id); paused {
			select {
			case <-time.After(time.Second):
				continue
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case p.concurrencySem <- struct{}{}:
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}

		if err := p.processNextTask(ctx); err != nil {
			log.Error().Err(err).Msg("error processing task")
		}

		<-p.concurrencySem
	}
}

// processNextTask dequeues one task id, claims it exclusively, and carries
// it through execution to a committed terminal or retry outcome.
func (p *Pool) processNextTask(ctx context.Context) error {
	taskID, err := p.queue.Dequeue(ctx, p.config.PollTimeout)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if taskID == "" {
		return nil
	}

	acquired, err := p.lock.Acquire(ctx, taskID)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		// Another worker already holds the claim; this entry's republish
		// raced a still-in-flight attempt. Drop it silently.
		return nil
	}
	defer func() {
		if err := p.lock.Release(ctx, taskID); err != nil {
			logger.Error().Err(err).Str("task_id", taskID).Msg("failed to release lock")
		}
	}()

	t, err := p.store.GetByID(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Str("task_id", taskID).Msg("claimed task no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	if t.Status.IsTerminal() || t.Status != task.StatusQueued {
		logger.Debug().Str("task_id", taskID).Str("status", t.Status.String()).Msg("skipping claim, task not runnable")
		return nil
	}

	if t.NextRunAt.After(time.Now().UTC()) {
		// A duplicate queue entry for a task already rescheduled into the
		// future must not defeat its backoff. The scheduler republishes
		// it once next_run_at passes; the deferred Release frees the lock.
		logger.Debug().Str("task_id", taskID).Time("next_run_at", t.NextRunAt).Msg("skipping claim, not yet due")
		return nil
	}

	t, err = p.store.Transition(ctx, t.ID, task.StatusRunning, "picked up by worker", nil)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to start task")
		return nil
	}
	p.publish(ctx, events.EventTaskStarted, t, nil)

	rt := time.Now()
	p.currentTasks.Store(t.ID, rt)
	defer p.currentTasks.Delete(t.ID)

	taskCtx, cancel := context.WithTimeout(ctx, p.config.HandlerTimeout)
	defer cancel()

	start := time.Now()
	result, execErr := p.executor.Execute(taskCtx, t)
	duration := time.Since(start).Seconds()

	if execErr != nil {
		return p.handleFailure(ctx, t, execErr, duration)
	}
	return p.handleSuccess(ctx, t, result, duration)
}

// handleSuccess commits a COMPLETED outcome, unless a concurrent cancel
// already moved the task to a terminal state — cancellation wins.
func (p *Pool) handleSuccess(ctx context.Context, t *task.Task, result map[string]interface{}, duration float64) error {
	current, err := p.store.GetByID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("re-read before commit: %w", err)
	}
	if current.Status == task.StatusCanceled {
		logger.Info().Str("task_id", t.ID).Msg("skipping success commit, task was canceled")
		return nil
	}

	resultJSON, err := marshalResult(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	updated, err := p.store.Transition(ctx, t.ID, task.StatusCompleted, "handler success", func(u *task.Task) {
		u.Result = resultJSON
		u.LastError = ""
	})
	if err != nil {
		return fmt.Errorf("commit success: %w", err)
	}

	metrics.RecordTaskCompletion(t.Type, duration)
	p.publish(ctx, events.EventTaskCompleted, updated, nil)

	logger.Info().Str("task_id", t.ID).Str("type", t.Type).Int("attempts", t.Attempts).Msg("task completed")
	return nil
}

// handleFailure re-reads for the same cancellation race, then either
// schedules a retry or marks the task FAILED once attempts are exhausted.
func (p *Pool) handleFailure(ctx context.Context, t *task.Task, execErr error, duration float64) error {
	log := logger.WithTask(t.ID)
	log.Error().Err(execErr).Msg("task execution failed")

	current, err := p.store.GetByID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("re-read before commit: %w", err)
	}
	if current.Status == task.StatusCanceled {
		log.Info().Msg("skipping failure commit, task was canceled")
		return nil
	}

	nextAttempts := t.Attempts + 1
	errMsg := execErr.Error()

	if nextAttempts >= t.MaxAttempts {
		updated, terr := p.store.Transition(ctx, t.ID, task.StatusFailed, "attempts exhausted", func(u *task.Task) {
			u.Attempts = nextAttempts
			u.LastError = errMsg
		})
		if terr != nil {
			return fmt.Errorf("commit failure: %w", terr)
		}
		metrics.RecordTaskFailure(t.Type, duration)
		p.publish(ctx, events.EventTaskFailed, updated, map[string]interface{}{"error": errMsg})
		return nil
	}

	updated, terr := p.store.Transition(ctx, t.ID, task.StatusQueued, "retry scheduled", func(u *task.Task) {
		u.Attempts = nextAttempts
		u.LastError = errMsg
		u.NextRunAt = p.retry.NextRunAt(nextAttempts)
	})
	if terr != nil {
		return fmt.Errorf("commit retry: %w", terr)
	}

	metrics.RecordTaskRetry(t.Type)
	p.publish(ctx, events.EventTaskRetrying, updated, map[string]interface{}{"error": errMsg, "attempts": nextAttempts})

	// Republishing here shortens the wait for the scheduler's own scan to
	// pick the retry up when next_run_at has already elapsed (e.g. a zero
	// backoff); harmless duplicate if the scheduler also enqueues it.
	if time.Until(updated.NextRunAt) <= 0 {
		if err := p.queue.Enqueue(ctx, updated.ID, updated.Priority); err != nil {
			log.Error().Err(err).Msg("failed to re-enqueue immediately due retry")
		}
	}

	return nil
}

func marshalResult(result map[string]interface{}) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

func (p *Pool) publish(ctx context.Context, evt events.EventType, t *task.Task, extra map[string]interface{}) {
	if p.publisher == nil {
		return
	}
	data := events.TaskEventData(t.ID, t.Type, t.Priority, extra)
	if err := p.publisher.Publish(ctx, events.NewEvent(evt, data)); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to publish task event")
	}
}

// recoveryLoop periodically sweeps for RUNNING tasks whose updated_at is
// older than the configured threshold, implying the worker holding their
// lock crashed without releasing it before expiry noise settles, and
// requeues them. This is the optional recovery sweep the worker algorithm
// permits but does not require.
func (p *Pool) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.RecoverySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepStaleRunning(ctx)
		}
	}
}

func (p *Pool) sweepStaleRunning(ctx context.Context) {
	running := task.StatusRunning
	stale, _, err := p.store.List(ctx, &running, 200, nil)
	if err != nil {
		logger.Error().Err(err).Msg("recovery sweep: failed to list running tasks")
		return
	}

	threshold := p.config.RecoverySweepThreshold
	for _, t := range stale {
		if time.Since(t.UpdatedAt) < threshold {
			continue
		}

		updated, err := p.store.Transition(ctx, t.ID, task.StatusQueued, "recovered stale running task", func(u *task.Task) {
			u.NextRunAt = time.Now().UTC()
		})
		if err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("recovery sweep: failed to requeue stale task")
			continue
		}

		if err := p.queue.Enqueue(ctx, updated.ID, updated.Priority); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("recovery sweep: failed to re-enqueue")
			continue
		}

		logger.Info().Str("task_id", t.ID).Msg("recovery sweep: requeued stale running task")
	}
}
