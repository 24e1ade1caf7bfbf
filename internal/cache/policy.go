package cache

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the TTL of each cache tier. Balance entries get a
// value-dependent TTL: a zero balance is assumed stable and kept far
// longer than a positive one. Zero entries are never invalidated early,
// they simply age out.
type Policy struct {
	TokenList     time.Duration
	NativeBalance time.Duration
	Balance       time.Duration
	ZeroBalance   time.Duration
	Price         time.Duration
	Metadata      time.Duration
}

// DefaultPolicy returns the production TTLs.
func DefaultPolicy() Policy {
	return Policy{
		TokenList:     5 * time.Minute,
		NativeBalance: 5 * time.Minute,
		Balance:       5 * time.Minute,
		ZeroBalance:   24 * time.Hour,
		Price:         time.Minute,
		Metadata:      24 * time.Hour,
	}
}

// BalanceTTL returns the TTL for a token balance entry.
func (p Policy) BalanceTTL(balance decimal.Decimal) time.Duration {
	if balance.Sign() <= 0 {
		return p.ZeroBalance
	}
	return p.Balance
}
