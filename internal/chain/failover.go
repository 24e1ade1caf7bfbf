package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	unhealthyDuration  = 5 * time.Minute
	healthCheckTimeout = 5 * time.Second
)

type endpointStatus struct {
	url           string
	client        *ethclient.Client
	healthy       bool
	lastError     error
	lastErrorTime time.Time
	mu            sync.RWMutex
}

// FailoverClient rotates across a pool of RPC endpoints. An endpoint
// that errors is benched for a cooldown before a reconnect attempt.
type FailoverClient struct {
	endpoints    []*endpointStatus
	currentIndex int
	mu           sync.RWMutex
}

// NewFailoverClient dials every URL and verifies each with a chain id
// probe. At least one endpoint must come up.
func NewFailoverClient(urls []string) (*FailoverClient, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one RPC URL is required")
	}

	fc := &FailoverClient{
		endpoints: make([]*endpointStatus, 0, len(urls)),
	}

	healthyCount := 0
	for _, url := range urls {
		client, err := ethclient.Dial(url)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			_, probeErr := client.ChainID(ctx)
			cancel()

			if probeErr != nil {
				client.Close()
				client = nil
				err = probeErr
			}
		}

		fc.endpoints = append(fc.endpoints, &endpointStatus{
			url:           url,
			client:        client,
			healthy:       err == nil,
			lastError:     err,
			lastErrorTime: time.Now(),
		})

		if err == nil {
			healthyCount++
			slog.Info("RPC endpoint connected", "url", url)
		} else {
			slog.Warn("RPC endpoint unreachable, will retry after cooldown", "url", url, "error", err)
		}
	}

	if healthyCount == 0 {
		return nil, fmt.Errorf("no healthy RPC endpoints available")
	}

	return fc, nil
}

// GetClient returns a healthy client, rotating through the pool and
// reviving benched endpoints whose cooldown expired.
func (fc *FailoverClient) GetClient() (*ethclient.Client, string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	startIndex := fc.currentIndex

	for i := 0; i < len(fc.endpoints); i++ {
		idx := (startIndex + i) % len(fc.endpoints)
		ep := fc.endpoints[idx]

		ep.mu.RLock()
		healthy := ep.healthy
		client := ep.client
		url := ep.url
		canRetry := time.Since(ep.lastErrorTime) > unhealthyDuration
		ep.mu.RUnlock()

		if healthy && client != nil {
			fc.currentIndex = idx
			return client, url, nil
		}

		if !healthy && canRetry {
			if newClient, err := ethclient.Dial(ep.url); err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
				_, probeErr := newClient.ChainID(ctx)
				cancel()

				if probeErr == nil {
					ep.mu.Lock()
					if ep.client != nil {
						ep.client.Close()
					}
					ep.client = newClient
					ep.healthy = true
					ep.lastError = nil
					ep.mu.Unlock()

					fc.currentIndex = idx
					slog.Info("RPC endpoint recovered", "url", ep.url)
					return newClient, url, nil
				}
				newClient.Close()
			}
		}
	}

	return nil, "", fmt.Errorf("no healthy RPC endpoints available")
}

// MarkUnhealthy benches an endpoint and drops its connection. The
// cooldown in GetClient decides when it gets another chance.
func (fc *FailoverClient) MarkUnhealthy(url string, err error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	for _, ep := range fc.endpoints {
		if ep.url != url {
			continue
		}

		ep.mu.Lock()
		ep.healthy = false
		ep.lastError = err
		ep.lastErrorTime = time.Now()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.mu.Unlock()

		slog.Warn("RPC endpoint benched",
			"url", url,
			"error", err,
			"retry_after", unhealthyDuration)
		return
	}
}

// Close drops every connection in the pool.
func (fc *FailoverClient) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for _, ep := range fc.endpoints {
		ep.mu.Lock()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.mu.Unlock()
	}
}
