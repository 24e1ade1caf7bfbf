package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store manages PostgreSQL operations
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store with connection pooling
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Tune connection pool
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	// Map NUMERIC columns to decimal.Decimal
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const walletColumns = `id, chain, address, name, is_active, created_at`

// GetWallet loads one wallet by id. Returns ErrNotFound for unknown ids.
func (s *Store) GetWallet(ctx context.Context, id int64) (*Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id).
		Scan(&w.ID, &w.Chain, &w.Address, &w.Name, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get wallet %d: %w", id, err)
	}
	return &w, nil
}

// ListActiveWallets returns every wallet eligible for background work.
func (s *Store) ListActiveWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.Chain, &w.Address, &w.Name, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

const tokenColumns = `id, chain, address, symbol, name, decimals, logo_url,
	current_price_usd, price_change_24h, last_updated, is_active`

// UpsertToken creates or updates a token by its natural key
// (chain, contract address). Descriptive fields only overwrite stored
// values when non-empty, so a degraded metadata source cannot blank out
// a token. Prices are never touched here.
func (s *Store) UpsertToken(ctx context.Context, chain, address string, meta TokenMetadata) (*Token, error) {
	var t Token
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tokens (chain, address, symbol, name, decimals, logo_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain, address) DO UPDATE SET
			symbol   = COALESCE(NULLIF(EXCLUDED.symbol, ''), tokens.symbol),
			name     = COALESCE(NULLIF(EXCLUDED.name, ''), tokens.name),
			decimals = CASE WHEN EXCLUDED.decimals > 0 THEN EXCLUDED.decimals ELSE tokens.decimals END,
			logo_url = COALESCE(NULLIF(EXCLUDED.logo_url, ''), tokens.logo_url)
		RETURNING `+tokenColumns,
		chain, address, meta.Symbol, meta.Name, meta.Decimals, meta.LogoURL).
		Scan(&t.ID, &t.Chain, &t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.LogoURL,
			&t.CurrentPriceUSD, &t.PriceChange24h, &t.LastUpdated, &t.IsActive)
	if err != nil {
		return nil, fmt.Errorf("upsert token %s/%q: %w", chain, address, err)
	}
	return &t, nil
}

// TokensByAddresses loads the tokens of one chain whose contract
// addresses appear in the given set.
func (s *Store) TokensByAddresses(ctx context.Context, chain string, addresses []string) ([]Token, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM tokens
		 WHERE chain = $1 AND lower(address) = ANY($2)`,
		chain, addresses)
	if err != nil {
		return nil, fmt.Errorf("tokens by addresses: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.Chain, &t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.LogoURL,
			&t.CurrentPriceUSD, &t.PriceChange24h, &t.LastUpdated, &t.IsActive); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// UpsertWalletTokenBalance records the last observed balance of a token
// in a wallet, keyed by (wallet, token address). Last observation wins.
func (s *Store) UpsertWalletTokenBalance(ctx context.Context, walletID, tokenID int64, tokenAddress string, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_tokens (wallet_id, token_id, token_address, balance, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (wallet_id, token_address) DO UPDATE SET
			token_id   = EXCLUDED.token_id,
			balance    = EXCLUDED.balance,
			updated_at = now()`,
		walletID, tokenID, tokenAddress, balance)
	if err != nil {
		return fmt.Errorf("upsert wallet token %d/%q: %w", walletID, tokenAddress, err)
	}
	return nil
}

// ListWalletTokens returns the contract-token holdings of a wallet.
// Native rows (empty token address) are excluded.
func (s *Store) ListWalletTokens(ctx context.Context, walletID int64) ([]WalletToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, token_id, token_address, balance, is_visible, updated_at
		FROM wallet_tokens
		WHERE wallet_id = $1 AND token_address <> ''
		ORDER BY id`,
		walletID)
	if err != nil {
		return nil, fmt.Errorf("list wallet tokens: %w", err)
	}
	defer rows.Close()

	var holdings []WalletToken
	for rows.Next() {
		var wt WalletToken
		if err := rows.Scan(&wt.ID, &wt.WalletID, &wt.TokenID, &wt.TokenAddress, &wt.Balance, &wt.IsVisible, &wt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet token: %w", err)
		}
		holdings = append(holdings, wt)
	}
	return holdings, rows.Err()
}

// BulkUpdatePrices writes a batch of price rows inside one transaction.
// Either every row lands or none does.
func (s *Store) BulkUpdatePrices(ctx context.Context, updates []PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin price update: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			UPDATE tokens
			SET current_price_usd = $1, price_change_24h = $2, last_updated = $3
			WHERE id = $4`,
			u.PriceUSD, u.PriceChange24h, u.LastUpdated, u.TokenID)
	}

	br := tx.SendBatch(ctx, batch)
	for range updates {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("price update batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close price update batch: %w", err)
	}

	return tx.Commit(ctx)
}
