// Package queue implements the shared work-item channel between the
// submission service, the scheduler, and the worker pool, plus the
// per-task exclusion lock workers use to claim a task exclusively.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-orchestrator/internal/config"
)

// NewRedisClient dials Redis from the configured URL, applying the pool
// and timeout settings shared by every process.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	return redis.NewClient(opts), nil
}

// entry is the wire object pushed to the Redis list. Priority rides along
// for observability; consumption order is list order, not priority order.
type entry struct {
	TaskID   string `json:"task_id"`
	Priority int    `json:"priority"`
}

// RedisQueue is a single named Redis list shared between producers
// (submission, scheduler) and consumers (workers).
type RedisQueue struct {
	client *redis.Client
	name   string
}

// NewRedisQueue pings the given Redis client and returns a queue bound to
// name.
func NewRedisQueue(client *redis.Client, name string) (*RedisQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect to redis: %w", err)
	}

	return &RedisQueue{client: client, name: name}, nil
}

// Enqueue publishes a task id at the head of the list. A matching Dequeue
// retrieves entries LIFO relative to other Enqueue calls; priority rides
// along for observability, it does not reorder consumption.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string, priority int) error {
	data, err := json.Marshal(entry{TaskID: taskID, Priority: priority})
	if err != nil {
		return fmt.Errorf("queue: marshal entry: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next entry at the tail. Returns
// ("", nil) on timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: brpop: %w", err)
	}

	// BRPop returns [key, value].
	if len(result) != 2 {
		return "", fmt.Errorf("queue: unexpected brpop result shape: %v", result)
	}

	var e entry
	if err := json.Unmarshal([]byte(result[1]), &e); err != nil {
		return "", fmt.Errorf("queue: unmarshal entry: %w", err)
	}
	return e.TaskID, nil
}

// Depth returns the current number of entries waiting in the list, for the
// admin queue-depth endpoint.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Purge removes every pending entry from the queue.
func (q *RedisQueue) Purge(ctx context.Context) error {
	return q.client.Del(ctx, q.name).Err()
}

// Client returns the underlying Redis client, used by the worker heartbeat
// registry and the admin health check, which operate on keys outside the
// queue list itself.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
