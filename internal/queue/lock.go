package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockKeyPrefix matches the wire naming in the API contract: dto:lock:{id}.
const lockKeyPrefix = "dto:lock:"

// Lock is the per-task short-lived mutual-exclusion mechanism workers use
// to claim a task. It is backed by a single Redis key per task, set with
// NX/EX so acquisition is atomic and expiry recovers a crashed holder.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLock returns a Lock with the given TTL, which must exceed the
// worker's maximum per-task processing budget.
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	return &Lock{client: client, ttl: ttl}
}

// Acquire succeeds iff no unexpired lock exists for task_id, atomically.
func (l *Lock) Acquire(ctx context.Context, taskID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(taskID), 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: acquire: %w", err)
	}
	return ok, nil
}

// Release deletes the lock unconditionally, regardless of whether the
// caller still held it — callers invoke this from a defer so a crashing
// handler never leaves the task permanently unclaimable before TTL expiry.
func (l *Lock) Release(ctx context.Context, taskID string) error {
	if err := l.client.Del(ctx, lockKey(taskID)).Err(); err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

func lockKey(taskID string) string {
	return lockKeyPrefix + taskID
}
