package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/walletkit/balance-tracker/internal/queue"
	"github.com/walletkit/balance-tracker/internal/storage"
)

// WalletLister lists the wallets the sweep covers.
type WalletLister interface {
	ListActiveWallets(ctx context.Context) ([]storage.Wallet, error)
}

// Sweeper queues a price update for every active wallet. It runs on a
// fixed schedule so prices stay current even for wallets nobody
// refreshes by hand.
type Sweeper struct {
	store  WalletLister
	queue  queue.Queue
	logger *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(store WalletLister, q queue.Queue) *Sweeper {
	return &Sweeper{store: store, queue: q, logger: slog.Default().With("component", "sweeper")}
}

// Run enqueues one price update job per active wallet. A wallet whose
// enqueue fails is skipped; the next sweep picks it up again.
func (s *Sweeper) Run(ctx context.Context) error {
	wallets, err := s.store.ListActiveWallets(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	queued := 0
	for _, w := range wallets {
		job, err := queue.NewJob(PriceUpdateJob, PriceUpdateArgs{WalletID: w.ID})
		if err != nil {
			s.logger.Error("failed to build price update job", "wallet_id", w.ID, "error", err)
			continue
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("failed to queue price update", "wallet_id", w.ID, "error", err)
			continue
		}
		queued++
	}

	s.logger.Info("sweep finished", "wallets", len(wallets), "queued", queued)
	return nil
}
