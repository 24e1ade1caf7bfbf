// Package health exposes an HTTP endpoint aggregating the liveness of
// the database, Redis, and the registered chain backends.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/walletkit/balance-tracker/internal/chain"
)

// Pinger probes one backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs health checks on application dependencies
type Checker struct {
	db             Pinger
	redis          Pinger
	registry       *chain.Registry
	interval       time.Duration
	lastRunTime    time.Time
	lastRunSuccess bool
	mu             sync.RWMutex
}

// NewChecker creates a new health checker. interval is the sweep
// interval, used to judge scheduler staleness; zero disables that check.
func NewChecker(db, redis Pinger, registry *chain.Registry, interval time.Duration) *Checker {
	return &Checker{
		db:       db,
		redis:    redis,
		registry: registry,
		interval: interval,
	}
}

// UpdateLastRun updates the timestamp and status of the last sweep
func (c *Checker) UpdateLastRun(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRunTime = time.Now()
	c.lastRunSuccess = success
}

// CheckStatus represents the health status of a component
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusError    CheckStatus = "error"
)

// HealthResponse is the JSON response structure
type HealthResponse struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckDetail `json:"checks"`
	Uptime    string                 `json:"uptime,omitempty"`
}

// CheckDetail contains details about a specific health check
type CheckDetail struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

var startTime = time.Now()

// Check performs all health checks and returns the aggregated status
func (c *Checker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]CheckDetail)
	overallStatus := StatusOK

	dbCheck := c.checkPinger(ctx, c.db, "database")
	checks["database"] = dbCheck
	if dbCheck.Status != StatusOK {
		overallStatus = StatusError
	}

	redisCheck := c.checkPinger(ctx, c.redis, "redis")
	checks["redis"] = redisCheck
	if redisCheck.Status != StatusOK {
		overallStatus = StatusError
	}

	chainCheck := c.checkChains(ctx)
	checks["chains"] = chainCheck
	if chainCheck.Status == StatusError {
		overallStatus = StatusError
	} else if chainCheck.Status == StatusDegraded && overallStatus == StatusOK {
		overallStatus = StatusDegraded
	}

	if c.interval > 0 {
		sweepCheck := c.checkSweep()
		checks["sweep"] = sweepCheck
		if sweepCheck.Status != StatusOK && overallStatus == StatusOK {
			overallStatus = StatusDegraded
		}
	}

	return HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

func (c *Checker) checkPinger(ctx context.Context, p Pinger, name string) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		slog.Error("Health check failed", "check", name, "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: name + " unreachable: " + err.Error(),
		}
	}
	return CheckDetail{
		Status:  StatusOK,
		Message: name + " connection healthy",
	}
}

// checkChains probes every registered chain provider. All reachable is
// ok, some is degraded, none is an error.
func (c *Checker) checkChains(ctx context.Context) CheckDetail {
	ids := c.registry.ChainIDs()
	if len(ids) == 0 {
		return CheckDetail{Status: StatusError, Message: "no chain providers registered"}
	}

	healthy := 0
	for _, id := range ids {
		provider, err := c.registry.Lookup(id)
		if err != nil {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = provider.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Error("Health check: chain unreachable", "chain", id, "error", err)
			continue
		}
		healthy++
	}

	switch {
	case healthy == len(ids):
		return CheckDetail{Status: StatusOK, Message: "all chain backends healthy"}
	case healthy > 0:
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d/%d chain backends healthy", healthy, len(ids)),
		}
	default:
		return CheckDetail{Status: StatusError, Message: "no chain backends reachable"}
	}
}

// checkSweep verifies the sweep is executing at expected intervals
func (c *Checker) checkSweep() CheckDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Never having run is fine, the process may be starting up.
	if c.lastRunTime.IsZero() {
		return CheckDetail{
			Status:  StatusOK,
			Message: "sweep not yet executed (startup)",
		}
	}

	if !c.lastRunSuccess {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: "last sweep failed",
		}
	}

	// Allow a 2x interval grace period before calling it stale.
	timeSinceLastRun := time.Since(c.lastRunTime)
	graceThreshold := c.interval * 2

	if timeSinceLastRun > graceThreshold {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("no sweep in %s (expected every %s)", timeSinceLastRun.Round(time.Second), c.interval),
		}
	}

	return CheckDetail{
		Status:  StatusOK,
		Message: fmt.Sprintf("last sweep %s ago", timeSinceLastRun.Round(time.Second)),
	}
}

// Handler returns an http.HandlerFunc for the health endpoint
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := c.Check(r.Context())

		statusCode := http.StatusOK
		if status.Status == StatusError {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}
