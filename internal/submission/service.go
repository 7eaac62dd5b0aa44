// Package submission implements the idempotent task creation contract: the
// one path by which a new task enters the system.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/metrics"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/task"
)

// Enqueuer publishes a committed task id onto the shared work queue.
// Satisfied by queue.RedisQueue.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string, priority int) error
}

// Service accepts new tasks, deduplicates by idempotency key, persists them
// durably, and publishes them onto the queue.
type Service struct {
	store              *store.Store
	queue              Enqueuer
	publisher          events.Publisher
	defaultMaxAttempts int
}

// New constructs a submission Service with no event stream attached;
// WithPublisher attaches one.
func New(s *store.Store, q Enqueuer, defaultMaxAttempts int) *Service {
	return &Service{store: s, queue: q, defaultMaxAttempts: defaultMaxAttempts}
}

// WithPublisher attaches the best-effort event stream and returns s.
func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.publisher = p
	return s
}

// Create implements the algorithm in full: idempotency lookup, construct,
// persist, enqueue, count, return. See internal/store.Store.Create for the
// transactional insert/promote-to-queued step.
func (s *Service) Create(ctx context.Context, taskType string, payload json.RawMessage, idempotencyKey string, priority int) (*task.Task, error) {
	if idempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, taskType, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("submission: idempotency lookup: %w", err)
		}
	}

	t := task.New(taskType, payload, idempotencyKey, priority, s.defaultMaxAttempts)

	if err := s.store.Create(ctx, t); err != nil {
		if errors.Is(err, store.ErrConflict) && idempotencyKey != "" {
			// Lost the race to a concurrent idempotent submission: re-read
			// and return the winner instead of propagating the conflict.
			winner, ferr := s.store.FindByIdempotencyKey(ctx, taskType, idempotencyKey)
			if ferr == nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("submission: create: %w", err)
	}

	if err := s.queue.Enqueue(ctx, t.ID, t.Priority); err != nil {
		// The task is durably QUEUED even though the publish failed; the
		// scheduler's due-task scan will recover it.
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to enqueue task after commit")
	}

	metrics.TasksCreatedTotal.WithLabelValues(taskType).Inc()

	if s.publisher != nil {
		evt := events.NewEvent(events.EventTaskCreated, events.TaskEventData(t.ID, t.Type, t.Priority, nil))
		if err := s.publisher.Publish(ctx, evt); err != nil {
			logger.Warn().Err(err).Str("task_id", t.ID).Msg("failed to publish created event")
		}
	}

	logger.Info().
		Str("task_id", t.ID).
		Str("type", t.Type).
		Int("priority", t.Priority).
		Msg("task created")

	return t, nil
}
