// Package scheduler runs the periodic sweep on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// JobFunc is the function signature for scheduled jobs.
type JobFunc func(ctx context.Context) error

// Config holds scheduler configuration.
type Config struct {
	Interval       time.Duration
	RunImmediately bool
	Logger         *slog.Logger
}

// Scheduler wraps gocron v2 with a single interval job.
type Scheduler struct {
	inner          gocron.Scheduler
	job            gocron.Job
	interval       time.Duration
	runImmediately bool
	logger         *slog.Logger
}

// New creates a scheduler running jobFunc every cfg.Interval.
func New(ctx context.Context, cfg Config, jobFunc JobFunc) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		interval:       cfg.Interval,
		runImmediately: cfg.RunImmediately,
		logger:         cfg.Logger,
	}

	inner, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(newGocronLoggerAdapter(cfg.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	s.inner = inner

	job, err := inner.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(func() {
			if err := jobFunc(ctx); err != nil {
				s.logger.Error("Scheduled job failed", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}
	s.job = job

	return s, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	// The scheduler goroutine must be running before RunNow: gocron
	// services run requests from inside Start's event loop, so the
	// reverse order wedges both calls.
	s.inner.Start()

	if s.runImmediately {
		s.logger.Info("Executing job immediately")
		if err := s.job.RunNow(); err != nil {
			// Scheduled executions still proceed.
			s.logger.Error("Immediate execution failed", "error", err)
		}
	}

	nextRun, err := s.NextRun()
	if err == nil {
		s.logger.Info("Scheduler started", "interval", s.interval, "next_run", nextRun.Format(time.RFC3339))
	} else {
		s.logger.Info("Scheduler started", "interval", s.interval)
	}
	return nil
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.inner.Shutdown()
}

// NextRun returns the next scheduled run time.
func (s *Scheduler) NextRun() (time.Time, error) {
	nextRun, err := s.job.NextRun()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get next run: %w", err)
	}
	return nextRun, nil
}

// LastRun returns the last run time.
func (s *Scheduler) LastRun() (time.Time, error) {
	lastRun, err := s.job.LastRun()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last run: %w", err)
	}
	return lastRun, nil
}

// Interval returns the configured run interval. The health checker uses
// it to decide whether executions are on schedule.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// gocronLoggerAdapter adapts slog.Logger to gocron.Logger interface
type gocronLoggerAdapter struct {
	logger *slog.Logger
}

func newGocronLoggerAdapter(logger *slog.Logger) gocron.Logger {
	return &gocronLoggerAdapter{logger: logger}
}

func (a *gocronLoggerAdapter) Debug(msg string, args ...any) {
	a.logger.Debug(msg, args...)
}

func (a *gocronLoggerAdapter) Info(msg string, args ...any) {
	a.logger.Info(msg, args...)
}

func (a *gocronLoggerAdapter) Warn(msg string, args ...any) {
	a.logger.Warn(msg, args...)
}

func (a *gocronLoggerAdapter) Error(msg string, args ...any) {
	a.logger.Error(msg, args...)
}
