// Package refresh orchestrates the synchronous wallet refresh: native
// balance, token discovery, batched balance fetch, persistence, and a
// queued price update.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletkit/balance-tracker/internal/cache"
	"github.com/walletkit/balance-tracker/internal/chain"
	"github.com/walletkit/balance-tracker/internal/fetcher"
	"github.com/walletkit/balance-tracker/internal/queue"
	"github.com/walletkit/balance-tracker/internal/storage"
)

// PriceUpdateJob is the queue job name for the asynchronous price pass.
const PriceUpdateJob = "wallet.update_prices"

// PriceUpdateArgs are the arguments of a PriceUpdateJob.
type PriceUpdateArgs struct {
	WalletID int64 `json:"wallet_id"`
}

// ErrWalletNotFound is returned when the wallet id is unknown.
var ErrWalletNotFound = errors.New("wallet not found")

// Store is the storage surface the refresh needs.
type Store interface {
	GetWallet(ctx context.Context, id int64) (*storage.Wallet, error)
	UpsertToken(ctx context.Context, chainID, address string, meta storage.TokenMetadata) (*storage.Token, error)
	UpsertWalletTokenBalance(ctx context.Context, walletID, tokenID int64, tokenAddress string, balance decimal.Decimal) error
	ListWalletTokens(ctx context.Context, walletID int64) ([]storage.WalletToken, error)
}

// BalanceFetcher resolves many token balances with caching and bounded
// concurrency.
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, provider fetcher.BalanceProvider, chainID, walletAddress string, candidates []string) map[string]decimal.Decimal
}

// Service runs wallet refreshes.
type Service struct {
	store    Store
	cache    cache.Store
	policy   cache.Policy
	registry *chain.Registry
	fetcher  BalanceFetcher
	queue    queue.Queue
	logger   *slog.Logger
}

// NewService wires a refresh service.
func NewService(store Store, cacheStore cache.Store, policy cache.Policy, registry *chain.Registry, fetcher BalanceFetcher, q queue.Queue) *Service {
	return &Service{
		store:    store,
		cache:    cacheStore,
		policy:   policy,
		registry: registry,
		fetcher:  fetcher,
		queue:    q,
		logger:   slog.Default().With("component", "refresh"),
	}
}

// Result is the synchronous refresh response. Balances holds only
// positive contract-token balances, keyed by lowercase address; the
// native balance is reported separately.
type Result struct {
	Message       string                     `json:"message"`
	WalletAddress string                     `json:"wallet_address"`
	RefreshTime   time.Time                  `json:"refresh_time"`
	TokenCount    int                        `json:"token_count"`
	Status        string                     `json:"status"`
	NativeBalance decimal.Decimal            `json:"native_balance"`
	Balances      map[string]decimal.Decimal `json:"balances"`
}

// Refresh refreshes one wallet: it resolves the native balance, the
// contract-token balances of every candidate token, persists what it
// found, and queues the price update. The native balance and the queue
// write are load-bearing; a failed token row is logged and skipped.
func (s *Service) Refresh(ctx context.Context, walletID int64) (*Result, error) {
	wallet, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
		}
		return nil, err
	}

	provider, err := s.registry.Lookup(wallet.Chain)
	if err != nil {
		return nil, err
	}

	native, err := s.nativeBalance(ctx, provider, wallet)
	if err != nil {
		return nil, fmt.Errorf("native balance of %s: %w", wallet.Address, err)
	}

	candidates, metadata, err := s.candidateTokens(ctx, provider, wallet)
	if err != nil {
		return nil, fmt.Errorf("token discovery for %s: %w", wallet.Address, err)
	}

	balances := s.fetcher.FetchBalances(ctx, provider, wallet.Chain, wallet.Address, candidates)

	s.persistNative(ctx, wallet, provider.NativeAsset(), native)
	for addr, balance := range balances {
		s.persistToken(ctx, wallet, addr, metadata[addr], balance)
	}

	job, err := queue.NewJob(PriceUpdateJob, PriceUpdateArgs{WalletID: wallet.ID})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue price update: %w", err)
	}

	s.logger.Info("wallet refreshed",
		"wallet_id", wallet.ID,
		"chain", wallet.Chain,
		"tokens_held", len(balances))

	return &Result{
		Message:       "wallet balances refreshed",
		WalletAddress: wallet.Address,
		RefreshTime:   time.Now().UTC(),
		TokenCount:    len(balances),
		Status:        "success",
		NativeBalance: native,
		Balances:      balances,
	}, nil
}

func (s *Service) nativeBalance(ctx context.Context, provider chain.Provider, wallet *storage.Wallet) (decimal.Decimal, error) {
	key := cache.NativeBalanceKey(wallet.Chain, wallet.Address)
	var balance decimal.Decimal
	if s.cache.Get(ctx, key, &balance) {
		return balance, nil
	}

	balance, err := provider.NativeBalance(ctx, wallet.Address)
	if err != nil {
		return decimal.Zero, err
	}
	s.cache.Set(ctx, key, balance, s.policy.NativeBalance)
	return balance, nil
}

// candidateTokens builds the set of contract addresses worth checking:
// the provider's discovered tokens plus everything the wallet already
// has a stored row for. Discovery results are cached per wallet.
func (s *Service) candidateTokens(ctx context.Context, provider chain.Provider, wallet *storage.Wallet) ([]string, map[string]chain.Asset, error) {
	key := cache.TokenListKey(wallet.Chain, wallet.Address)

	var discovered []chain.TokenBalance
	if !s.cache.Get(ctx, key, &discovered) {
		var err error
		discovered, err = provider.AllTokenBalances(ctx, wallet.Address)
		if err != nil {
			return nil, nil, err
		}
		s.cache.Set(ctx, key, discovered, s.policy.TokenList)
	}

	metadata := make(map[string]chain.Asset, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	var candidates []string

	add := func(addr string) {
		addr = strings.ToLower(addr)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		candidates = append(candidates, addr)
	}

	for _, tb := range discovered {
		add(tb.Asset.Address)
		metadata[strings.ToLower(tb.Asset.Address)] = tb.Asset
	}

	tracked, err := s.store.ListWalletTokens(ctx, wallet.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, wt := range tracked {
		add(wt.TokenAddress)
	}

	return candidates, metadata, nil
}

// persistNative stores the native coin under the empty-address token
// row for the wallet's chain.
func (s *Service) persistNative(ctx context.Context, wallet *storage.Wallet, asset chain.Asset, balance decimal.Decimal) {
	symbol := asset.Symbol
	if symbol == "" {
		symbol = wallet.Chain
	}
	token, err := s.store.UpsertToken(ctx, wallet.Chain, "", storage.TokenMetadata{
		Symbol:   symbol,
		Name:     asset.Name,
		Decimals: int16(asset.Decimals),
	})
	if err != nil {
		s.logger.Error("failed to upsert native token row", "chain", wallet.Chain, "error", err)
		return
	}
	if err := s.store.UpsertWalletTokenBalance(ctx, wallet.ID, token.ID, "", balance); err != nil {
		s.logger.Error("failed to store native balance", "wallet_id", wallet.ID, "error", err)
	}
}

func (s *Service) persistToken(ctx context.Context, wallet *storage.Wallet, address string, asset chain.Asset, balance decimal.Decimal) {
	meta := storage.TokenMetadata{
		Symbol:   asset.Symbol,
		Name:     asset.Name,
		Decimals: int16(asset.Decimals),
		LogoURL:  asset.LogoURL,
	}
	if meta.Symbol == "" {
		meta.Symbol = "UNKNOWN"
	}
	if meta.Name == "" {
		meta.Name = "Unknown Token"
	}

	token, err := s.store.UpsertToken(ctx, wallet.Chain, address, meta)
	if err != nil {
		s.logger.Error("failed to upsert token", "chain", wallet.Chain, "token", address, "error", err)
		return
	}
	if err := s.store.UpsertWalletTokenBalance(ctx, wallet.ID, token.ID, address, balance); err != nil {
		s.logger.Error("failed to store token balance",
			"wallet_id", wallet.ID, "token", address, "error", err)
	}
}
