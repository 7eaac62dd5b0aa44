package queue

import (
	"context"
	"sync"
	"time"

	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/store"
)

// dueTaskBatchSize bounds each scan, per the component design.
const dueTaskBatchSize = 200

// Enqueuer is the slice of the queue the scheduler needs to republish a
// due task.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string, priority int) error
}

// Scheduler periodically republishes durable tasks whose next_run_at has
// come, recovering from lost queue entries and delivering retries whose
// delay has elapsed since the worker last touched them.
type Scheduler struct {
	store    *store.Store
	queue    Enqueuer
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler returns a Scheduler with the given republish cadence.
func NewScheduler(s *store.Store, q Enqueuer, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    s,
		queue:    q,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	logger.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.GetDueTasks(ctx, dueTaskBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: failed to fetch due tasks")
		return
	}
	if len(due) == 0 {
		return
	}

	logger.Debug().Int("count", len(due)).Msg("scheduler: republishing due tasks")

	for _, t := range due {
		if err := s.queue.Enqueue(ctx, t.ID, t.Priority); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: failed to enqueue due task")
		}
	}
}
