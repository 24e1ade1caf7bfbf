package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/walletkit/balance-tracker/internal/config"
	"github.com/walletkit/balance-tracker/internal/logger"
	"github.com/walletkit/balance-tracker/internal/refresh"
)

var refreshWalletID int64

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh one wallet's balances",
	Long:  `Fetch the wallet's balances from its chain, persist them, and queue a price update.`,
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().Int64Var(&refreshWalletID, "wallet-id", 0, "id of the wallet to refresh")
	refreshCmd.MarkFlagRequired("wallet-id")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	cfg, databaseURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}
	if cfg.LogLevel != "" {
		logger.Setup(cfg.LogLevel)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, databaseURL)
	if err != nil {
		slog.Error("Startup failed", "error", err)
		return err
	}
	defer a.Close()

	result, err := a.service.Refresh(ctx, refreshWalletID)
	if err != nil {
		if errors.Is(err, refresh.ErrWalletNotFound) {
			slog.Error("Wallet not found", "wallet_id", refreshWalletID)
		}
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
