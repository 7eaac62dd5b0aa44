package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/task"
)

// TaskHandler maps a task's payload to a result document. Handlers are
// registered once at process start; the registry is never mutated after
// the pool begins consuming.
type TaskHandler func(ctx context.Context, t *task.Task) (map[string]interface{}, error)

var (
	// ErrHandlerNotFound marks a task whose type has no registered
	// handler. The worker treats it like any other handler failure, so
	// tasks enqueued for a yet-to-be-deployed type retry instead of
	// getting stuck.
	ErrHandlerNotFound = errors.New("worker: no handler registered for task type")

	// ErrHandlerTimeout marks an attempt that exceeded the bounded
	// handler timeout.
	ErrHandlerTimeout = errors.New("worker: handler timed out")
)

// Executor dispatches a claimed task to its registered handler, absorbing
// panics and normalizing timeout errors so the pool's outcome logic only
// ever sees an error value.
type Executor struct {
	handlers map[string]TaskHandler
}

// NewExecutor returns an Executor with an empty registry.
func NewExecutor() *Executor {
	return &Executor{handlers: make(map[string]TaskHandler)}
}

// RegisterHandler binds a task type to its handler. Not safe for
// concurrent use with Execute; call during startup only.
func (e *Executor) RegisterHandler(taskType string, h TaskHandler) {
	e.handlers[taskType] = h
}

// HasHandler reports whether taskType is registered.
func (e *Executor) HasHandler(taskType string) bool {
	_, ok := e.handlers[taskType]
	return ok
}

// HandlerTypes returns the registered task types.
func (e *Executor) HandlerTypes() []string {
	types := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		types = append(types, t)
	}
	return types
}

// Execute runs the handler for t under the caller's context. A panic in
// the handler is converted into an error; a context deadline becomes
// ErrHandlerTimeout so callers can distinguish it in last_error.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task_id", t.ID).
				Str("type", t.Type).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("handler panicked")
			result = nil
			err = fmt.Errorf("worker: handler panicked: %v", r)
		}
	}()

	handler, ok := e.handlers[t.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, t.Type)
	}

	log := logger.WithTask(t.ID)
	start := time.Now()
	result, err = handler(ctx, t)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("elapsed", elapsed).Msg("handler timed out")
			return nil, ErrHandlerTimeout
		}
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("handler failed")
		return nil, err
	}

	log.Debug().Dur("elapsed", elapsed).Msg("handler succeeded")
	return result, nil
}
