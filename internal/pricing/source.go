// Package pricing pulls token quotes from an external market data API
// and applies them to stored tokens when they changed enough to matter.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is one token's market snapshot.
type Quote struct {
	PriceUSD       decimal.Decimal
	PriceChange24h decimal.Decimal
}

// Source fetches quotes for token contracts on one chain. Returned map
// keys are lowercase contract addresses; tokens the source does not
// know are simply absent.
type Source interface {
	TokenPrices(ctx context.Context, chainSlug string, addresses []string) (map[string]Quote, error)
}
