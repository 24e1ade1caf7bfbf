package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	t.Run("decimal value survives a round trip", func(t *testing.T) {
		want := decimal.RequireFromString("1234.000000000000000001")
		store.Set(ctx, "balance", want, time.Minute)

		var got decimal.Decimal
		require.True(t, store.Get(ctx, "balance", &got))
		assert.True(t, want.Equal(got))
	})

	t.Run("struct value survives a round trip", func(t *testing.T) {
		type entry struct {
			Symbol  string          `json:"symbol"`
			Balance decimal.Decimal `json:"balance"`
		}
		want := []entry{
			{Symbol: "USDC", Balance: decimal.NewFromInt(5)},
			{Symbol: "DAI", Balance: decimal.NewFromInt(10)},
		}
		store.Set(ctx, "entries", want, time.Minute)

		var got []entry
		require.True(t, store.Get(ctx, "entries", &got))
		require.Len(t, got, 2)
		assert.Equal(t, "USDC", got[0].Symbol)
		assert.True(t, want[1].Balance.Equal(got[1].Balance))
	})

	t.Run("absent key is a miss", func(t *testing.T) {
		var got decimal.Decimal
		assert.False(t, store.Get(ctx, "nothing-here", &got))
	})

	t.Run("delete removes the entry", func(t *testing.T) {
		store.Set(ctx, "gone", "value", time.Minute)
		store.Delete(ctx, "gone")

		var got string
		assert.False(t, store.Get(ctx, "gone", &got))
	})
}

func TestRedisStoreTTL(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	store.Set(ctx, "short", 1, time.Minute)
	assert.Equal(t, time.Minute, mr.TTL("short"))

	store.Set(ctx, "long", 1, 24*time.Hour)
	assert.Equal(t, 24*time.Hour, mr.TTL("long"))

	t.Run("entry expires after its TTL", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)

		var got int
		assert.False(t, store.Get(ctx, "short", &got))
		assert.True(t, store.Get(ctx, "long", &got))
	})
}

func TestRedisStoreFailureIsMiss(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	t.Run("undecodable entry is a miss", func(t *testing.T) {
		require.NoError(t, mr.Set("corrupt", "not json at all {{"))

		var got decimal.Decimal
		assert.False(t, store.Get(ctx, "corrupt", &got))
	})

	t.Run("unreachable server is a miss, not an error", func(t *testing.T) {
		mr.Close()

		var got int
		assert.False(t, store.Get(ctx, "anything", &got))
		// Set must not panic either
		store.Set(ctx, "anything", 1, time.Minute)
	})
}

func TestKeyFormats(t *testing.T) {
	assert.Equal(t, "ETH:0xabc:all_tokens", TokenListKey("ETH", "0xabc"))
	assert.Equal(t, "ETH:0xabc:native_balance", NativeBalanceKey("ETH", "0xabc"))
	assert.Equal(t, "ETH:0xabc:0xdef:balance", BalanceKey("ETH", "0xabc", "0xdef"))
	assert.Equal(t, "ETH_token_price_0xdef", PriceKey("ETH", "0xdef"))
	assert.Equal(t, "ETH:token:0xdef:metadata", MetadataKey("ETH", "0xdef"))
}

func TestPolicyBalanceTTL(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name    string
		balance decimal.Decimal
		want    time.Duration
	}{
		{"zero balance gets the long TTL", decimal.Zero, 24 * time.Hour},
		{"positive balance gets the short TTL", decimal.NewFromInt(5), 5 * time.Minute},
		{"tiny positive balance gets the short TTL", decimal.RequireFromString("0.000000000000000001"), 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.BalanceTTL(tt.balance))
		})
	}
}
