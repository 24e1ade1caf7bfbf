package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/walletkit/balance-tracker/internal/cache"
)

const (
	rpcTimeout    = 10 * time.Second
	maxRetries    = 3
	retryInterval = 500 * time.Millisecond
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// EVMConfig configures one EVM chain provider.
type EVMConfig struct {
	ChainID        string
	RPCURLs        []string
	NativeSymbol   string
	NativeName     string
	NativeDecimals uint8
	Tokens         []EVMToken
}

// EVMToken is a contract the provider enumerates during discovery.
type EVMToken struct {
	Address          string
	FallbackDecimals uint8
}

// EVMProvider serves balance queries for one EVM chain over a failover
// RPC pool. ERC-20 metadata is cached between calls; EVM nodes cannot
// enumerate holdings, so discovery scans the configured contract set.
type EVMProvider struct {
	cfg       EVMConfig
	failover  *FailoverClient
	parsedABI abi.ABI
	cache     cache.Store
	policy    cache.Policy
	logger    *slog.Logger
}

// NewEVMProvider connects the RPC pool and prepares the ERC-20 ABI.
func NewEVMProvider(cfg EVMConfig, cacheStore cache.Store, policy cache.Policy) (*EVMProvider, error) {
	failover, err := NewFailoverClient(cfg.RPCURLs)
	if err != nil {
		return nil, err
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		failover.Close()
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &EVMProvider{
		cfg:       cfg,
		failover:  failover,
		parsedABI: parsedABI,
		cache:     cacheStore,
		policy:    policy,
		logger:    slog.Default().With("chain", cfg.ChainID),
	}, nil
}

// Close closes all RPC connections.
func (p *EVMProvider) Close() error {
	p.failover.Close()
	return nil
}

func (p *EVMProvider) ChainID() string {
	return p.cfg.ChainID
}

func (p *EVMProvider) NativeAsset() Asset {
	name := p.cfg.NativeName
	if name == "" {
		name = p.cfg.NativeSymbol
	}
	decimals := p.cfg.NativeDecimals
	if decimals == 0 {
		decimals = 18
	}
	return Asset{Symbol: p.cfg.NativeSymbol, Name: name, Decimals: decimals}
}

// Ping probes the currently selected RPC endpoint.
func (p *EVMProvider) Ping(ctx context.Context) error {
	client, _, err := p.failover.GetClient()
	if err != nil {
		return err
	}
	if _, err := client.ChainID(ctx); err != nil {
		return fmt.Errorf("chain id probe: %w", err)
	}
	return nil
}

// retryWithBackoff executes fn with exponential backoff, rotating to
// another endpoint after each failure.
func (p *EVMProvider) retryWithBackoff(ctx context.Context, fn func(client *ethclient.Client) error) error {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := retryInterval * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		client, url, err := p.failover.GetClient()
		if err != nil {
			lastErr = err
			continue
		}

		if err := fn(client); err != nil {
			lastErr = err
			p.failover.MarkUnhealthy(url, err)
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (p *EVMProvider) NativeBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	var wei *big.Int
	err := p.retryWithBackoff(rpcCtx, func(client *ethclient.Client) error {
		var callErr error
		wei, callErr = client.BalanceAt(rpcCtx, common.HexToAddress(walletAddress), nil)
		return callErr
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("native balance: %w", err)
	}

	return decimal.NewFromBigInt(wei, -int32(p.NativeAsset().Decimals)), nil
}

func (p *EVMProvider) TokenBalance(ctx context.Context, tokenAddress, walletAddress string) (decimal.Decimal, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	// Metadata failures fall back to configured decimals; the balance
	// call below decides whether the token is usable at all.
	meta, err := p.tokenMetadata(rpcCtx, tokenAddress)
	if err != nil {
		p.logger.Debug("token metadata unavailable, using fallback decimals",
			"token", tokenAddress, "error", err)
	}

	contractAddr := common.HexToAddress(tokenAddress)
	var raw *big.Int
	err = p.retryWithBackoff(rpcCtx, func(client *ethclient.Client) error {
		contract := bind.NewBoundContract(contractAddr, p.parsedABI, client, client, client)
		var out []any
		if err := contract.Call(&bind.CallOpts{Context: rpcCtx}, &out, "balanceOf", common.HexToAddress(walletAddress)); err != nil {
			return err
		}
		raw = out[0].(*big.Int)
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s: %w", tokenAddress, err)
	}

	return decimal.NewFromBigInt(raw, -int32(meta.Decimals)), nil
}

// AllTokenBalances scans the configured contract set for the wallet.
// Individual contract failures are logged and skipped so one broken
// token cannot hide the rest.
func (p *EVMProvider) AllTokenBalances(ctx context.Context, walletAddress string) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(p.cfg.Tokens))
	for _, tok := range p.cfg.Tokens {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		meta, err := p.tokenMetadata(ctx, tok.Address)
		if err != nil {
			p.logger.Warn("token metadata lookup failed during scan",
				"token", tok.Address, "error", err)
		}

		balance, err := p.TokenBalance(ctx, tok.Address, walletAddress)
		if err != nil {
			p.logger.Warn("token scan failed", "token", tok.Address, "error", err)
			continue
		}

		out = append(out, TokenBalance{Asset: meta, Balance: balance})
	}
	return out, nil
}

// tokenMetadata returns ERC-20 metadata for a contract, served from the
// cache when possible. On error the returned asset still carries the
// address and fallback decimals.
func (p *EVMProvider) tokenMetadata(ctx context.Context, tokenAddress string) (Asset, error) {
	key := cache.MetadataKey(p.cfg.ChainID, strings.ToLower(tokenAddress))
	var asset Asset
	if p.cache.Get(ctx, key, &asset) {
		return asset, nil
	}

	asset = Asset{Address: tokenAddress, Decimals: p.fallbackDecimals(tokenAddress)}
	contractAddr := common.HexToAddress(tokenAddress)

	err := p.retryWithBackoff(ctx, func(client *ethclient.Client) error {
		contract := bind.NewBoundContract(contractAddr, p.parsedABI, client, client, client)
		opts := &bind.CallOpts{Context: ctx}

		var symbolOut []any
		if err := contract.Call(opts, &symbolOut, "symbol"); err != nil {
			return err
		}
		asset.Symbol = symbolOut[0].(string)

		// name and decimals are optional in the wild
		var nameOut []any
		if err := contract.Call(opts, &nameOut, "name"); err == nil {
			asset.Name = nameOut[0].(string)
		}

		var decimalsOut []any
		if err := contract.Call(opts, &decimalsOut, "decimals"); err == nil {
			asset.Decimals = decimalsOut[0].(uint8)
		}
		return nil
	})
	if err != nil {
		return asset, fmt.Errorf("token metadata %s: %w", tokenAddress, err)
	}

	p.cache.Set(ctx, key, asset, p.policy.Metadata)
	return asset, nil
}

func (p *EVMProvider) fallbackDecimals(tokenAddress string) uint8 {
	want := common.HexToAddress(tokenAddress)
	for _, tok := range p.cfg.Tokens {
		if common.HexToAddress(tok.Address) == want && tok.FallbackDecimals > 0 {
			return tok.FallbackDecimals
		}
	}
	return 18
}
