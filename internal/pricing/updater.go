package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletkit/balance-tracker/internal/cache"
	"github.com/walletkit/balance-tracker/internal/storage"
)

// Thresholds decide whether a fresh quote differs enough from the
// stored one to be worth a write.
type Thresholds struct {
	// RelativeChange is the minimum |new-old|/max(old, Epsilon) ratio.
	RelativeChange decimal.Decimal
	// Change24hDelta is the minimum absolute move of the 24h change
	// figure, in percentage points.
	Change24hDelta decimal.Decimal
	// Epsilon guards the relative change division against old prices
	// at or near zero.
	Epsilon decimal.Decimal
}

// DefaultThresholds matches the tuning the pipeline ships with: 0.5%
// relative price move or half a percentage point of 24h change.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RelativeChange: decimal.NewFromFloat(0.005),
		Change24hDelta: decimal.NewFromFloat(0.5),
		Epsilon:        decimal.NewFromFloat(1e-6),
	}
}

// ShouldUpdate reports whether a quote should replace the stored price.
// Zero on either side always updates: a zero stored price means the
// token was never priced, and a zero quote is a delisting signal worth
// recording.
func (t Thresholds) ShouldUpdate(oldPrice, oldChange, newPrice, newChange decimal.Decimal) bool {
	if oldPrice.IsZero() || newPrice.IsZero() {
		return true
	}

	denom := oldPrice
	if denom.LessThan(t.Epsilon) {
		denom = t.Epsilon
	}
	if newPrice.Sub(oldPrice).Abs().Div(denom).GreaterThan(t.RelativeChange) {
		return true
	}

	return newChange.Sub(oldChange).Abs().GreaterThan(t.Change24hDelta)
}

// Store is the storage surface the updater needs.
type Store interface {
	GetWallet(ctx context.Context, id int64) (*storage.Wallet, error)
	ListWalletTokens(ctx context.Context, walletID int64) ([]storage.WalletToken, error)
	TokensByAddresses(ctx context.Context, chain string, addresses []string) ([]storage.Token, error)
	BulkUpdatePrices(ctx context.Context, updates []storage.PriceUpdate) error
}

// Updater refreshes stored prices for the tokens a wallet holds.
type Updater struct {
	store      Store
	source     Source
	cache      cache.Store
	policy     cache.Policy
	thresholds Thresholds
	chainSlugs map[string]string
	logger     *slog.Logger
}

// NewUpdater creates a price updater. chainSlugs maps internal chain
// ids to the price API's chain identifiers; unmapped chains fall back
// to the lowercased chain id.
func NewUpdater(store Store, source Source, cacheStore cache.Store, policy cache.Policy, thresholds Thresholds, chainSlugs map[string]string) *Updater {
	return &Updater{
		store:      store,
		source:     source,
		cache:      cacheStore,
		policy:     policy,
		thresholds: thresholds,
		chainSlugs: chainSlugs,
		logger:     slog.Default().With("component", "price_updater"),
	}
}

// Run refreshes prices for every contract token the wallet holds.
// A source failure aborts the run before any write; the job queue
// retries on the next sweep. Database writes are all-or-nothing.
func (u *Updater) Run(ctx context.Context, walletID int64) error {
	wallet, err := u.store.GetWallet(ctx, walletID)
	if err != nil {
		return fmt.Errorf("load wallet %d: %w", walletID, err)
	}

	holdings, err := u.store.ListWalletTokens(ctx, walletID)
	if err != nil {
		return fmt.Errorf("list holdings: %w", err)
	}

	addresses := dedupeAddresses(holdings)
	if len(addresses) == 0 {
		u.logger.Debug("wallet holds no contract tokens, nothing to price", "wallet_id", walletID)
		return nil
	}

	slug, ok := u.chainSlugs[wallet.Chain]
	if !ok {
		slug = strings.ToLower(wallet.Chain)
	}

	quotes, err := u.source.TokenPrices(ctx, slug, addresses)
	if err != nil {
		return fmt.Errorf("fetch quotes for chain %s: %w", wallet.Chain, err)
	}

	tokens, err := u.store.TokensByAddresses(ctx, wallet.Chain, addresses)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}

	now := time.Now().UTC()
	var updates []storage.PriceUpdate
	for _, token := range tokens {
		quote, ok := quotes[strings.ToLower(token.Address)]
		if !ok {
			continue
		}
		if !u.thresholds.ShouldUpdate(token.CurrentPriceUSD, token.PriceChange24h, quote.PriceUSD, quote.PriceChange24h) {
			continue
		}
		updates = append(updates, storage.PriceUpdate{
			TokenID:        token.ID,
			PriceUSD:       quote.PriceUSD,
			PriceChange24h: quote.PriceChange24h,
			LastUpdated:    now,
		})
	}

	if len(updates) > 0 {
		if err := u.store.BulkUpdatePrices(ctx, updates); err != nil {
			return fmt.Errorf("persist prices: %w", err)
		}
	}

	// Quotes go to the cache even when below threshold so readers see
	// the freshest number the source gave us.
	for addr, quote := range quotes {
		u.cache.Set(ctx, cache.PriceKey(wallet.Chain, addr), quote.PriceUSD, u.policy.Price)
	}

	u.logger.Info("price update finished",
		"wallet_id", walletID,
		"chain", wallet.Chain,
		"quoted", len(quotes),
		"written", len(updates))
	return nil
}

func dedupeAddresses(holdings []storage.WalletToken) []string {
	seen := make(map[string]struct{}, len(holdings))
	out := make([]string, 0, len(holdings))
	for _, h := range holdings {
		if h.TokenAddress == "" {
			continue
		}
		addr := strings.ToLower(h.TokenAddress)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
