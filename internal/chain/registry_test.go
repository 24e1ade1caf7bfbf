package chain

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	id string
}

func (s *stubProvider) ChainID() string    { return s.id }
func (s *stubProvider) NativeAsset() Asset { return Asset{Symbol: s.id} }
func (s *stubProvider) NativeBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubProvider) TokenBalance(ctx context.Context, tokenAddress, walletAddress string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubProvider) AllTokenBalances(ctx context.Context, walletAddress string) ([]TokenBalance, error) {
	return nil, nil
}
func (s *stubProvider) Ping(ctx context.Context) error { return nil }

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubProvider{id: "ETH"})
	registry.Register(&stubProvider{id: "POLYGON"})

	t.Run("lookup returns the registered provider", func(t *testing.T) {
		p, err := registry.Lookup("ETH")
		require.NoError(t, err)
		assert.Equal(t, "ETH", p.ChainID())
	})

	t.Run("lookup is exact, not prefix based", func(t *testing.T) {
		_, err := registry.Lookup("ETH_TESTNET")
		assert.Error(t, err)
	})

	t.Run("unknown chain errors", func(t *testing.T) {
		_, err := registry.Lookup("SOL")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "SOL")
	})

	t.Run("registering the same id replaces the provider", func(t *testing.T) {
		replacement := &stubProvider{id: "ETH"}
		registry.Register(replacement)

		p, err := registry.Lookup("ETH")
		require.NoError(t, err)
		assert.Same(t, replacement, p.(*stubProvider))
	})

	t.Run("chain ids are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"ETH", "POLYGON"}, registry.ChainIDs())
	})
}

func TestEVMProviderNativeAsset(t *testing.T) {
	tests := []struct {
		name string
		cfg  EVMConfig
		want Asset
	}{
		{
			name: "fully specified",
			cfg:  EVMConfig{NativeSymbol: "xDAI", NativeName: "Gnosis xDAI", NativeDecimals: 18},
			want: Asset{Symbol: "xDAI", Name: "Gnosis xDAI", Decimals: 18},
		},
		{
			name: "name falls back to symbol",
			cfg:  EVMConfig{NativeSymbol: "ETH", NativeDecimals: 18},
			want: Asset{Symbol: "ETH", Name: "ETH", Decimals: 18},
		},
		{
			name: "decimals default to 18",
			cfg:  EVMConfig{NativeSymbol: "ETH"},
			want: Asset{Symbol: "ETH", Name: "ETH", Decimals: 18},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &EVMProvider{cfg: tt.cfg}
			assert.Equal(t, tt.want, p.NativeAsset())
		})
	}
}

func TestEVMProviderFallbackDecimals(t *testing.T) {
	p := &EVMProvider{cfg: EVMConfig{
		Tokens: []EVMToken{
			{Address: "0x1111111111111111111111111111111111111111", FallbackDecimals: 6},
			{Address: "0x2222222222222222222222222222222222222222"},
		},
	}}

	t.Run("configured fallback wins", func(t *testing.T) {
		assert.Equal(t, uint8(6), p.fallbackDecimals("0x1111111111111111111111111111111111111111"))
	})

	t.Run("address comparison ignores case", func(t *testing.T) {
		assert.Equal(t, uint8(6), p.fallbackDecimals("0x1111111111111111111111111111111111111111"))
		assert.Equal(t, uint8(6), p.fallbackDecimals("0X1111111111111111111111111111111111111111"))
	})

	t.Run("unconfigured fallback defaults to 18", func(t *testing.T) {
		assert.Equal(t, uint8(18), p.fallbackDecimals("0x2222222222222222222222222222222222222222"))
		assert.Equal(t, uint8(18), p.fallbackDecimals("0x3333333333333333333333333333333333333333"))
	})
}
