package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletkit/balance-tracker/internal/cache"
	"github.com/walletkit/balance-tracker/internal/chain"
	"github.com/walletkit/balance-tracker/internal/fetcher"
	"github.com/walletkit/balance-tracker/internal/queue"
	"github.com/walletkit/balance-tracker/internal/storage"
)

type fakeStore struct {
	wallets map[int64]*storage.Wallet
	tracked map[int64][]storage.WalletToken

	nextTokenID int64
	tokens      map[string]*storage.Token
	balances    map[string]decimal.Decimal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:  make(map[int64]*storage.Wallet),
		tracked:  make(map[int64][]storage.WalletToken),
		tokens:   make(map[string]*storage.Token),
		balances: make(map[string]decimal.Decimal),
	}
}

func (f *fakeStore) GetWallet(ctx context.Context, id int64) (*storage.Wallet, error) {
	w, ok := f.wallets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w, nil
}

func (f *fakeStore) UpsertToken(ctx context.Context, chainID, address string, meta storage.TokenMetadata) (*storage.Token, error) {
	key := chainID + "/" + address
	if t, ok := f.tokens[key]; ok {
		if meta.Symbol != "" {
			t.Symbol = meta.Symbol
		}
		return t, nil
	}
	f.nextTokenID++
	t := &storage.Token{ID: f.nextTokenID, Chain: chainID, Address: address, Symbol: meta.Symbol, Name: meta.Name, Decimals: meta.Decimals}
	f.tokens[key] = t
	return t, nil
}

func (f *fakeStore) UpsertWalletTokenBalance(ctx context.Context, walletID, tokenID int64, tokenAddress string, balance decimal.Decimal) error {
	f.balances[tokenAddress] = balance
	return nil
}

func (f *fakeStore) ListWalletTokens(ctx context.Context, walletID int64) ([]storage.WalletToken, error) {
	return f.tracked[walletID], nil
}

type fakeChain struct {
	id         string
	native     decimal.Decimal
	nativeErr  error
	discovered []chain.TokenBalance
	balances   map[string]decimal.Decimal
	errs       map[string]error
}

func (c *fakeChain) ChainID() string { return c.id }
func (c *fakeChain) NativeAsset() chain.Asset {
	return chain.Asset{Symbol: "xDAI", Name: "Gnosis xDAI", Decimals: 18}
}
func (c *fakeChain) NativeBalance(ctx context.Context, walletAddress string) (decimal.Decimal, error) {
	return c.native, c.nativeErr
}
func (c *fakeChain) TokenBalance(ctx context.Context, tokenAddress, walletAddress string) (decimal.Decimal, error) {
	if err, ok := c.errs[tokenAddress]; ok {
		return decimal.Zero, err
	}
	return c.balances[tokenAddress], nil
}
func (c *fakeChain) AllTokenBalances(ctx context.Context, walletAddress string) ([]chain.TokenBalance, error) {
	return c.discovered, nil
}
func (c *fakeChain) Ping(ctx context.Context) error { return nil }

type failQueue struct{}

func (failQueue) Enqueue(ctx context.Context, job queue.Job) error {
	return errors.New("redis down")
}

type harness struct {
	service *Service
	store   *fakeStore
	queue   *queue.RedisQueue
	mr      *miniredis.Miniredis
	client  *redis.Client
}

func newHarness(t *testing.T, provider chain.Provider) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cacheStore := cache.NewRedisStore(client)
	policy := cache.DefaultPolicy()
	registry := chain.NewRegistry()
	registry.Register(provider)

	store := newFakeStore()
	q := queue.NewRedisQueue(client)
	f := fetcher.New(cacheStore, policy, 5, 10)

	return &harness{
		service: NewService(store, cacheStore, policy, registry, f, q),
		store:   store,
		queue:   q,
		mr:      mr,
		client:  client,
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	dec := decimal.RequireFromString
	const walletAddr = "0x00000000000000000000000000000000000wa11e"

	asset := func(addr, symbol string) chain.Asset {
		return chain.Asset{Address: addr, Symbol: symbol, Decimals: 18}
	}

	newProvider := func() *fakeChain {
		return &fakeChain{
			id:     "GNOSIS",
			native: dec("0.75"),
			discovered: []chain.TokenBalance{
				{Asset: asset("0xaaa", "REG-A"), Balance: decimal.Zero},
				{Asset: asset("0xbbb", "REG-B"), Balance: dec("5")},
				{Asset: asset("0xccc", "REG-C"), Balance: dec("10")},
			},
			balances: map[string]decimal.Decimal{
				"0xaaa": decimal.Zero,
				"0xbbb": dec("5"),
				"0xccc": dec("10"),
			},
		}
	}

	t.Run("full refresh persists holdings and queues the price pass", func(t *testing.T) {
		h := newHarness(t, newProvider())
		h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "GNOSIS", Address: walletAddr}

		result, err := h.service.Refresh(ctx, 1)
		require.NoError(t, err)

		assert.Equal(t, "success", result.Status)
		assert.Equal(t, "wallet balances refreshed", result.Message)
		assert.Equal(t, walletAddr, result.WalletAddress)
		assert.Equal(t, 2, result.TokenCount, "zero balances are filtered out")
		assert.True(t, dec("0.75").Equal(result.NativeBalance))
		assert.WithinDuration(t, time.Now().UTC(), result.RefreshTime, 5*time.Second)

		require.Len(t, result.Balances, 2)
		assert.True(t, dec("5").Equal(result.Balances["0xbbb"]))
		assert.True(t, dec("10").Equal(result.Balances["0xccc"]))

		// Native row lands under the empty address sentinel.
		native, ok := h.store.balances[""]
		require.True(t, ok)
		assert.True(t, dec("0.75").Equal(native))
		assert.Equal(t, "xDAI", h.store.tokens["GNOSIS/"].Symbol)

		// Held tokens are persisted, the zero one is not.
		assert.Contains(t, h.store.balances, "0xbbb")
		assert.Contains(t, h.store.balances, "0xccc")
		assert.NotContains(t, h.store.balances, "0xaaa")

		// Exactly one price update job for this wallet.
		n, err := h.queue.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		payload, err := h.client.RPop(ctx, "jobs:pending").Result()
		require.NoError(t, err)
		var job queue.Job
		require.NoError(t, json.Unmarshal([]byte(payload), &job))
		assert.Equal(t, PriceUpdateJob, job.Name)
		var args PriceUpdateArgs
		require.NoError(t, json.Unmarshal(job.Args, &args))
		assert.Equal(t, int64(1), args.WalletID)

		// Zero balance cached with the long TTL, positives with the short one.
		assert.InDelta(t, (24 * time.Hour).Seconds(),
			h.mr.TTL(cache.BalanceKey("GNOSIS", walletAddr, "0xaaa")).Seconds(), 1)
		assert.InDelta(t, (5 * time.Minute).Seconds(),
			h.mr.TTL(cache.BalanceKey("GNOSIS", walletAddr, "0xbbb")).Seconds(), 1)

		// Discovery list and native balance cached too.
		assert.True(t, h.mr.Exists(cache.TokenListKey("GNOSIS", walletAddr)))
		assert.True(t, h.mr.Exists(cache.NativeBalanceKey("GNOSIS", walletAddr)))
	})

	t.Run("unknown wallet", func(t *testing.T) {
		h := newHarness(t, newProvider())
		_, err := h.service.Refresh(ctx, 404)
		assert.ErrorIs(t, err, ErrWalletNotFound)
	})

	t.Run("unregistered chain", func(t *testing.T) {
		h := newHarness(t, newProvider())
		h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "SOLANA", Address: walletAddr}
		_, err := h.service.Refresh(ctx, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SOLANA")
	})

	t.Run("native balance failure fails the refresh", func(t *testing.T) {
		provider := newProvider()
		provider.nativeErr = errors.New("all endpoints down")
		h := newHarness(t, provider)
		h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "GNOSIS", Address: walletAddr}

		_, err := h.service.Refresh(ctx, 1)
		require.Error(t, err)

		n, qerr := h.queue.Len(ctx)
		require.NoError(t, qerr)
		assert.Zero(t, n, "nothing queued on failure")
	})

	t.Run("single token failure is skipped, not fatal", func(t *testing.T) {
		provider := newProvider()
		provider.errs = map[string]error{"0xbbb": errors.New("execution reverted")}
		h := newHarness(t, provider)
		h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "GNOSIS", Address: walletAddr}

		result, err := h.service.Refresh(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, result.TokenCount)
		assert.Contains(t, result.Balances, "0xccc")
		assert.NotContains(t, result.Balances, "0xbbb")
	})

	t.Run("tracked tokens outside discovery are still checked", func(t *testing.T) {
		provider := newProvider()
		provider.balances["0xddd"] = dec("7")
		h := newHarness(t, provider)
		h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "GNOSIS", Address: walletAddr}
		h.store.tracked[1] = []storage.WalletToken{{WalletID: 1, TokenAddress: "0xDDD"}}

		result, err := h.service.Refresh(ctx, 1)
		require.NoError(t, err)
		assert.True(t, dec("7").Equal(result.Balances["0xddd"]))
		assert.Equal(t, "UNKNOWN", h.store.tokens["GNOSIS/0xddd"].Symbol, "no discovery metadata for tracked-only tokens")
	})

	t.Run("enqueue failure fails the refresh", func(t *testing.T) {
		h := newHarness(t, newProvider())
		h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "GNOSIS", Address: walletAddr}
		h.service.queue = failQueue{}

		_, err := h.service.Refresh(ctx, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enqueue price update")
	})
}

// A stalled price consumer must not slow the synchronous refresh: the
// only coupling between the two is the queued job.
func TestRefreshUnaffectedBySlowPriceConsumer(t *testing.T) {
	ctx := context.Background()
	dec := decimal.RequireFromString
	const walletAddr = "0x00000000000000000000000000000000000wa11e"

	provider := &fakeChain{
		id:     "GNOSIS",
		native: dec("1"),
		discovered: []chain.TokenBalance{
			{Asset: chain.Asset{Address: "0xaaa", Symbol: "REG-A", Decimals: 18}, Balance: dec("2")},
		},
		balances: map[string]decimal.Decimal{"0xaaa": dec("2")},
	}
	h := newHarness(t, provider)
	h.store.wallets[1] = &storage.Wallet{ID: 1, Chain: "GNOSIS", Address: walletAddr}

	// Consumer wedged mid-job, as if the price source never answered.
	release := make(chan struct{})
	picked := make(chan struct{}, 2)
	worker := queue.NewWorker(h.queue)
	worker.Register(PriceUpdateJob, func(ctx context.Context, raw json.RawMessage) error {
		picked <- struct{}{}
		<-release
		return nil
	})

	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(workerCtx)
		close(workerDone)
	}()

	start := time.Now()
	result, err := h.service.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-picked:
	case <-time.After(5 * time.Second):
		t.Fatal("queued job was never picked up")
	}

	// A second refresh while the first price job is still stuck.
	start = time.Now()
	_, err = h.service.Refresh(ctx, 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	close(release)
	cancelWorker()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()

	t.Run("queues one job per active wallet", func(t *testing.T) {
		h := newHarness(t, &fakeChain{id: "GNOSIS"})
		lister := &fakeLister{wallets: []storage.Wallet{
			{ID: 1, Chain: "GNOSIS", IsActive: true},
			{ID: 2, Chain: "GNOSIS", IsActive: true},
		}}

		s := NewSweeper(lister, h.queue)
		require.NoError(t, s.Run(ctx))

		n, err := h.queue.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("list failure aborts", func(t *testing.T) {
		h := newHarness(t, &fakeChain{id: "GNOSIS"})
		s := NewSweeper(&fakeLister{err: errors.New("db gone")}, h.queue)
		assert.Error(t, s.Run(ctx))
	})

	t.Run("enqueue failure skips the wallet", func(t *testing.T) {
		lister := &fakeLister{wallets: []storage.Wallet{{ID: 1}}}
		s := NewSweeper(lister, failQueue{})
		assert.NoError(t, s.Run(ctx))
	})
}

type fakeLister struct {
	wallets []storage.Wallet
	err     error
}

func (f *fakeLister) ListActiveWallets(ctx context.Context) ([]storage.Wallet, error) {
	return f.wallets, f.err
}
