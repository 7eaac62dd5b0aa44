package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-orchestrator/internal/logger"
)

const (
	activeWorkersKey = "workers:active"
	workerKeyPrefix  = "worker:"
)

// Info is the liveness record a worker publishes to Redis on every
// heartbeat. It exists purely for the admin worker listing; nothing in
// the task lifecycle reads it.
type Info struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ActiveTasks   int       `json:"active_tasks"`
	Concurrency   int       `json:"concurrency"`
}

// Heartbeat periodically refreshes a worker's liveness keys in Redis: a
// bare heartbeat key whose TTL doubles as the aliveness test, a JSON info
// record, and membership in the active-workers set. Keys expire on their
// own if the process dies, so a crashed worker fails the aliveness test
// after the timeout and disappears from the listing once its info record
// expires, at twice the timeout.
type Heartbeat struct {
	client   *redis.Client
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	info Info
}

// NewHeartbeat builds a heartbeat for workerID refreshing every interval,
// with keys expiring after timeout.
func NewHeartbeat(client *redis.Client, workerID string, interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{
		client:   client,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		info: Info{
			ID:        workerID,
			State:     "idle",
			StartedAt: time.Now().UTC(),
		},
	}
}

// Start registers the worker and begins the refresh loop.
func (h *Heartbeat) Start(ctx context.Context) {
	h.beat(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.beat(ctx)
			}
		}
	}()

	logger.Info().Str("worker_id", h.info.ID).Dur("interval", h.interval).Msg("heartbeat started")
}

// Stop halts the loop and removes the worker's keys so it drops out of
// the listing immediately instead of waiting for TTL expiry.
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := h.info.ID
	h.client.SRem(ctx, activeWorkersKey, id)
	h.client.Del(ctx, heartbeatKey(id), infoKey(id))

	logger.Info().Str("worker_id", id).Msg("heartbeat stopped")
}

// SetState updates the state string published on the next beat.
func (h *Heartbeat) SetState(state string) {
	h.mu.Lock()
	h.info.State = state
	h.mu.Unlock()
}

// SetActiveTasks updates the in-flight task count published on the next beat.
func (h *Heartbeat) SetActiveTasks(n int) {
	h.mu.Lock()
	h.info.ActiveTasks = n
	h.mu.Unlock()
}

// SetConcurrency records the pool's configured concurrency.
func (h *Heartbeat) SetConcurrency(n int) {
	h.mu.Lock()
	h.info.Concurrency = n
	h.mu.Unlock()
}

func (h *Heartbeat) beat(ctx context.Context) {
	h.mu.Lock()
	h.info.LastHeartbeat = time.Now().UTC()
	data, _ := json.Marshal(h.info)
	id := h.info.ID
	h.mu.Unlock()

	if err := h.client.Set(ctx, heartbeatKey(id), 1, h.timeout).Err(); err != nil {
		logger.Error().Err(err).Str("worker_id", id).Msg("heartbeat refresh failed")
		return
	}
	if err := h.client.Set(ctx, infoKey(id), data, h.timeout*2).Err(); err != nil {
		logger.Error().Err(err).Str("worker_id", id).Msg("worker info refresh failed")
	}
	h.client.SAdd(ctx, activeWorkersKey, id)
}

func heartbeatKey(workerID string) string {
	return workerKeyPrefix + workerID + ":heartbeat"
}

func infoKey(workerID string) string {
	return workerKeyPrefix + workerID + ":info"
}

// PauseKey is the Redis key the admin API sets to pause a worker and the
// worker polls before fetching new work.
func PauseKey(workerID string) string {
	return workerKeyPrefix + workerID + ":paused"
}

// GetActiveWorkers returns the info records of every worker whose keys
// are still live, pruning set members whose info has expired.
func GetActiveWorkers(ctx context.Context, client *redis.Client) ([]Info, error) {
	ids, err := client.SMembers(ctx, activeWorkersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("worker: list active workers: %w", err)
	}

	workers := make([]Info, 0, len(ids))
	for _, id := range ids {
		data, err := client.Get(ctx, infoKey(id)).Bytes()
		if err == redis.Nil {
			client.SRem(ctx, activeWorkersKey, id)
			continue
		}
		if err != nil {
			continue
		}

		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		workers = append(workers, info)
	}

	return workers, nil
}

// IsWorkerAlive reports whether workerID's heartbeat key has not yet
// expired.
func IsWorkerAlive(ctx context.Context, client *redis.Client, workerID string) (bool, error) {
	n, err := client.Exists(ctx, heartbeatKey(workerID)).Result()
	if err != nil {
		return false, fmt.Errorf("worker: check heartbeat: %w", err)
	}
	return n > 0, nil
}

// IsWorkerPaused reports whether the admin pause flag is set for workerID.
func IsWorkerPaused(ctx context.Context, client *redis.Client, workerID string) (bool, error) {
	n, err := client.Exists(ctx, PauseKey(workerID)).Result()
	if err != nil {
		return false, fmt.Errorf("worker: check pause flag: %w", err)
	}
	return n > 0, nil
}
