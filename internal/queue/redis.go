package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "jobs:pending"
	processingKey = "jobs:processing"
	popTimeout    = 2 * time.Second
)

// RedisQueue is a reliable-list queue: pop moves the payload to a
// processing list, ack removes it, and RecoverInFlight pushes orphans
// back after a crash.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisQueue creates a queue on the given Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, logger: slog.Default().With("component", "queue")}
}

// Enqueue pushes a job onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Name, err)
	}
	return nil
}

// pop blocks up to popTimeout for a job, atomically moving its payload
// to the processing list. Returns redis.Nil when nothing arrived.
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	return q.client.BLMove(ctx, pendingKey, processingKey, "RIGHT", "LEFT", popTimeout).Result()
}

// ack drops a processed payload from the processing list.
func (q *RedisQueue) ack(ctx context.Context, payload string) {
	if err := q.client.LRem(ctx, processingKey, 1, payload).Err(); err != nil {
		q.logger.Warn("failed to ack job", "error", err)
	}
}

// RecoverInFlight requeues payloads a previous worker left in the
// processing list. Called once on worker start.
func (q *RedisQueue) RecoverInFlight(ctx context.Context) (int, error) {
	recovered := 0
	for {
		err := q.client.LMove(ctx, processingKey, pendingKey, "RIGHT", "RIGHT").Err()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return recovered, nil
			}
			return recovered, fmt.Errorf("recover in-flight jobs: %w", err)
		}
		recovered++
	}
}

// Len returns the number of pending jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, pendingKey).Result()
}

// Ping probes the Redis backend.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
