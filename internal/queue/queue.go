// Package queue implements a small at-least-once job queue on Redis
// lists. Jobs must be idempotent: a worker crash replays whatever was
// in flight.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Job is a named unit of background work with JSON-encoded arguments.
type Job struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// NewJob builds a Job, encoding args as JSON.
func NewJob(name string, args any) (Job, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Job{}, fmt.Errorf("encode job args: %w", err)
	}
	return Job{Name: name, Args: raw}, nil
}

// Queue is the producer side. Workers consume through RedisQueue
// directly.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}
