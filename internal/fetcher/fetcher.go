// Package fetcher resolves many token balances for one wallet with
// bounded concurrency and a read-through cache.
package fetcher

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/walletkit/balance-tracker/internal/cache"
)

// BalanceProvider is the single chain call the fetcher needs.
type BalanceProvider interface {
	TokenBalance(ctx context.Context, tokenAddress, walletAddress string) (decimal.Decimal, error)
}

// Fetcher batches balance lookups. Cache hits are served first; misses
// go to the chain in chunks, with a cap on in-flight RPC calls.
type Fetcher struct {
	cache       cache.Store
	policy      cache.Policy
	concurrency int
	chunkSize   int
	logger      *slog.Logger
}

// New creates a Fetcher. Non-positive limits fall back to 5 concurrent
// calls in chunks of 10.
func New(cacheStore cache.Store, policy cache.Policy, concurrency, chunkSize int) *Fetcher {
	if concurrency <= 0 {
		concurrency = 5
	}
	if chunkSize <= 0 {
		chunkSize = 10
	}
	return &Fetcher{
		cache:       cacheStore,
		policy:      policy,
		concurrency: concurrency,
		chunkSize:   chunkSize,
		logger:      slog.Default().With("component", "balance_fetcher"),
	}
}

type fetched struct {
	address string
	balance decimal.Decimal
}

// FetchBalances returns the positive balances of the candidate tokens,
// keyed by lowercase contract address. Zero balances are cached with
// the long TTL but never returned. A failed lookup drops that one
// token; the rest of the batch is unaffected.
func (f *Fetcher) FetchBalances(ctx context.Context, provider BalanceProvider, chainID, walletAddress string, candidates []string) map[string]decimal.Decimal {
	results := make(map[string]decimal.Decimal, len(candidates))

	seen := make(map[string]struct{}, len(candidates))
	var misses []string
	for _, addr := range candidates {
		addr = strings.ToLower(addr)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}

		var balance decimal.Decimal
		if f.cache.Get(ctx, cache.BalanceKey(chainID, walletAddress, addr), &balance) {
			if balance.Sign() > 0 {
				results[addr] = balance
			}
			continue
		}
		misses = append(misses, addr)
	}

	if len(misses) == 0 {
		return results
	}

	out := make(chan fetched, len(misses))
	sem := make(chan struct{}, f.concurrency)

	for chunk := range slices.Chunk(misses, f.chunkSize) {
		if ctx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		for _, addr := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				balance, err := provider.TokenBalance(ctx, addr, walletAddress)
				if err != nil {
					f.logger.Warn("balance lookup failed",
						"chain", chainID, "token", addr, "wallet", walletAddress, "error", err)
					return
				}

				f.cache.Set(ctx, cache.BalanceKey(chainID, walletAddress, addr), balance, f.policy.BalanceTTL(balance))
				if balance.Sign() > 0 {
					out <- fetched{address: addr, balance: balance}
				}
			}()
		}
		wg.Wait()
	}
	close(out)

	for r := range out {
		results[r.address] = r.balance
	}
	return results
}
