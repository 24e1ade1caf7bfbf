package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/walletkit/balance-tracker/internal/cache"
	"github.com/walletkit/balance-tracker/internal/chain"
	"github.com/walletkit/balance-tracker/internal/config"
	"github.com/walletkit/balance-tracker/internal/fetcher"
	"github.com/walletkit/balance-tracker/internal/pricing"
	"github.com/walletkit/balance-tracker/internal/queue"
	"github.com/walletkit/balance-tracker/internal/refresh"
	"github.com/walletkit/balance-tracker/internal/storage"
)

// app holds the wired application components.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	redis    *redis.Client
	cache    cache.Store
	policy   cache.Policy
	registry *chain.Registry
	queue    *queue.RedisQueue
	updater  *pricing.Updater
	service  *refresh.Service
}

// newApp connects every backing service and wires the pipeline.
func newApp(ctx context.Context, cfg *config.Config, databaseURL string) (*app, error) {
	store, err := storage.NewStore(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		store.Close()
		redisClient.Close()
		return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	cacheStore := cache.NewRedisStore(redisClient)
	policy := cache.Policy{
		TokenList:     cfg.Refresh.TokenListTTL,
		NativeBalance: cfg.Refresh.NativeBalanceTTL,
		Balance:       cfg.Refresh.BalanceTTL,
		ZeroBalance:   cfg.Refresh.ZeroBalanceTTL,
		Price:         cfg.Refresh.PriceTTL,
		Metadata:      cfg.Refresh.MetadataTTL,
	}

	registry := chain.NewRegistry()
	chainSlugs := make(map[string]string, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		tokens := make([]chain.EVMToken, 0, len(cc.Tokens))
		for _, tc := range cc.Tokens {
			tokens = append(tokens, chain.EVMToken{
				Address:          tc.Address,
				FallbackDecimals: tc.FallbackDecimals,
			})
		}

		provider, err := chain.NewEVMProvider(chain.EVMConfig{
			ChainID:        cc.ID,
			RPCURLs:        cc.RPCURLs,
			NativeSymbol:   cc.NativeSymbol,
			NativeName:     cc.NativeName,
			NativeDecimals: cc.NativeDecimals,
			Tokens:         tokens,
		}, cacheStore, policy)
		if err != nil {
			store.Close()
			redisClient.Close()
			return nil, fmt.Errorf("connect chain %s: %w", cc.ID, err)
		}

		registry.Register(provider)
		chainSlugs[cc.ID] = cc.PriceChainID
		slog.Info("Chain provider registered", "chain", cc.ID, "rpc_endpoints", len(cc.RPCURLs), "tokens", len(tokens))
	}

	balanceFetcher := fetcher.New(cacheStore, policy, cfg.Refresh.FetchConcurrency, cfg.Refresh.FetchChunkSize)

	source := pricing.NewDEXScreenerSource(cfg.PriceAPI.BaseURL, cfg.PriceAPI.Timeout, cfg.PriceAPI.MaxTokensPerRequest)
	thresholds := pricing.Thresholds{
		RelativeChange: decimal.NewFromFloat(cfg.Refresh.PriceChangeThreshold),
		Change24hDelta: decimal.NewFromFloat(cfg.Refresh.Change24hThreshold),
		Epsilon:        decimal.NewFromFloat(cfg.Refresh.PriceEpsilon),
	}

	q := queue.NewRedisQueue(redisClient)
	updater := pricing.NewUpdater(store, source, cacheStore, policy, thresholds, chainSlugs)
	service := refresh.NewService(store, cacheStore, policy, registry, balanceFetcher, q)

	return &app{
		cfg:      cfg,
		store:    store,
		redis:    redisClient,
		cache:    cacheStore,
		policy:   policy,
		registry: registry,
		queue:    q,
		updater:  updater,
		service:  service,
	}, nil
}

// Close releases every connection the app holds.
func (a *app) Close() {
	for _, id := range a.registry.ChainIDs() {
		provider, err := a.registry.Lookup(id)
		if err != nil {
			continue
		}
		if closer, ok := provider.(io.Closer); ok {
			closer.Close()
		}
	}
	if err := a.redis.Close(); err != nil {
		slog.Error("Failed to close Redis connection", "error", err)
	}
	a.store.Close()
}

// priceUpdateHandler adapts the price updater to the job queue.
func (a *app) priceUpdateHandler() queue.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var args refresh.PriceUpdateArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("decode price update args: %w", err)
		}
		return a.updater.Run(ctx, args.WalletID)
	}
}
