// Package chain dispatches balance and metadata queries to per-chain
// providers through a registry keyed by chain id.
package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Asset describes a chain asset. The native coin uses an empty Address.
type Asset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	LogoURL  string `json:"logo_url,omitempty"`
}

// TokenBalance pairs an asset with a wallet's balance of it.
type TokenBalance struct {
	Asset   Asset           `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// Provider answers balance and metadata queries for one chain.
type Provider interface {
	// ChainID returns the identifier the provider is registered under.
	ChainID() string
	// NativeAsset describes the chain's native coin.
	NativeAsset() Asset
	// NativeBalance returns the native coin balance of a wallet.
	NativeBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error)
	// TokenBalance returns one contract token balance of a wallet.
	TokenBalance(ctx context.Context, tokenAddress, walletAddress string) (decimal.Decimal, error)
	// AllTokenBalances enumerates the tokens the provider can see for a
	// wallet, with metadata and balances.
	AllTokenBalances(ctx context.Context, walletAddress string) ([]TokenBalance, error)
	// Ping probes the chain backend.
	Ping(ctx context.Context) error
}

// Registry maps chain ids to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for its chain id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ChainID()] = p
}

// Lookup returns the provider for a chain id.
func (r *Registry) Lookup(chainID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[chainID]
	if !ok {
		return nil, fmt.Errorf("no provider registered for chain %q", chainID)
	}
	return p, nil
}

// ChainIDs returns the registered chain ids, sorted.
func (r *Registry) ChainIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
