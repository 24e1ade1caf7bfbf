package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a tracked wallet on one chain.
type Wallet struct {
	ID        int64
	Chain     string
	Address   string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Token is a chain asset. The native coin of a chain is stored with an
// empty contract address.
type Token struct {
	ID              int64
	Chain           string
	Address         string
	Symbol          string
	Name            string
	Decimals        int16
	LogoURL         string
	CurrentPriceUSD decimal.Decimal
	PriceChange24h  decimal.Decimal
	LastUpdated     time.Time
	IsActive        bool
}

// IsNative reports whether the token is a chain's native coin.
func (t Token) IsNative() bool {
	return t.Address == ""
}

// TokenMetadata is the descriptive part of a token upsert. Empty fields
// never overwrite previously stored values.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals int16
	LogoURL  string
}

// WalletToken links a wallet to a token with its last observed balance.
type WalletToken struct {
	ID           int64
	WalletID     int64
	TokenID      int64
	TokenAddress string
	Balance      decimal.Decimal
	IsVisible    bool
	UpdatedAt    time.Time
}

// PriceUpdate is one row of a bulk price write.
type PriceUpdate struct {
	TokenID        int64
	PriceUSD       decimal.Decimal
	PriceChange24h decimal.Decimal
	LastUpdated    time.Time
}
