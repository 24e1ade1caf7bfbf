package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/walletkit/balance-tracker/internal/config"
	"github.com/walletkit/balance-tracker/internal/health"
	"github.com/walletkit/balance-tracker/internal/logger"
	"github.com/walletkit/balance-tracker/internal/queue"
	"github.com/walletkit/balance-tracker/internal/refresh"
	"github.com/walletkit/balance-tracker/internal/scheduler"
	"github.com/walletkit/balance-tracker/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the balance tracker service",
	Long:  `Start the price update worker, the periodic sweep, and the health endpoint.`,
	RunE:  runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	// Setup logger (log-level from global flag)
	logger.Setup(logLevel)

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		slog.Info("Signal received, graceful shutdown", "signal", sig)
		cancel()
	}()

	// Load config
	cfg, databaseURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}

	// Override log level if set in config
	if cfg.LogLevel != "" {
		logger.Setup(cfg.LogLevel)
	}

	slog.Info("Configuration loaded",
		"config_path", cfgFile,
		"chains", len(cfg.Chains),
		"redis_addr", cfg.RedisAddr,
		"sweep_interval", cfg.SweepDuration(),
	)

	// Apply pending migrations before serving
	if err := storage.RunMigrations(ctx, databaseURL); err != nil {
		slog.Error("Migration failed", "error", err)
		return err
	}

	a, err := newApp(ctx, cfg, databaseURL)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	defer a.Close()

	// Price update worker
	worker := queue.NewWorker(a.queue)
	worker.Register(refresh.PriceUpdateJob, a.priceUpdateHandler())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Periodic sweep feeding the worker
	sweeper := refresh.NewSweeper(a.store, a.queue)
	sweepInterval := cfg.SweepDuration()

	var healthChecker *health.Checker
	jobFunc := func(jobCtx context.Context) error {
		err := sweeper.Run(jobCtx)
		if healthChecker != nil {
			healthChecker.UpdateLastRun(err == nil)
		}
		return err
	}

	sched, err := scheduler.New(ctx, scheduler.Config{
		Interval:       sweepInterval,
		RunImmediately: true,
		Logger:         slog.Default(),
	}, jobFunc)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		return fmt.Errorf("scheduler creation failed: %w", err)
	}
	defer sched.Stop()

	healthChecker = health.NewChecker(a.store, a.queue, a.registry, sweepInterval)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: http.HandlerFunc(healthChecker.Handler()),
	}

	go func() {
		slog.Info("Health check server starting", "port", cfg.HTTPPort, "endpoint", "/health")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server error", "error", err)
		}
	}()

	// Ensure HTTP server shutdown on exit
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Health server shutdown error", "error", err)
		}
	}()

	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	slog.Info("Service started")

	// Wait for shutdown signal, then let the worker drain
	<-ctx.Done()
	slog.Info("Shutdown requested, stopping service")
	wg.Wait()
	return nil
}
