package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes the decoded arguments of one job.
type Handler func(ctx context.Context, args json.RawMessage) error

// Worker pops jobs and dispatches them to registered handlers. Handler
// errors are logged and the job is acked anyway; redelivery happens
// through the periodic sweep, not the queue.
type Worker struct {
	queue    *RedisQueue
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewWorker creates a worker on the given queue.
func NewWorker(q *RedisQueue) *Worker {
	return &Worker{
		queue:    q,
		handlers: make(map[string]Handler),
		logger:   slog.Default().With("component", "worker"),
	}
}

// Register installs the handler for a job name. Jobs with no handler
// are dropped with an error log.
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	recovered, err := w.queue.RecoverInFlight(ctx)
	if err != nil {
		w.logger.Error("in-flight recovery failed", "error", err)
	} else if recovered > 0 {
		w.logger.Info("requeued in-flight jobs from previous run", "count", recovered)
	}

	for {
		payload, err := w.queue.pop(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Warn("queue pop failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		w.process(ctx, payload)
	}
}

func (w *Worker) process(ctx context.Context, payload string) {
	defer w.queue.ack(ctx, payload)

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		w.logger.Error("dropping undecodable job", "error", err)
		return
	}

	handler, ok := w.handlers[job.Name]
	if !ok {
		w.logger.Error("dropping job with no handler", "job", job.Name)
		return
	}

	start := time.Now()
	if err := handler(ctx, job.Args); err != nil {
		w.logger.Error("job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return
	}
	w.logger.Debug("job done", "job", job.Name, "duration", time.Since(start))
}
