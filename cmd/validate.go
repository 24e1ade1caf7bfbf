package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/walletkit/balance-tracker/internal/config"
	"github.com/walletkit/balance-tracker/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file syntax and values without running the application.`,
	RunE:  validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Setup logger
	logger.Setup(logLevel)

	// Load config
	cfg, databaseURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return err
	}

	slog.Info("✓ Configuration valid",
		"chains", len(cfg.Chains),
		"redis_addr", cfg.RedisAddr,
		"sweep_interval", cfg.SweepDuration(),
		"price_api", cfg.PriceAPI.BaseURL,
		"log_level", cfg.LogLevel,
		"database_url_set", databaseURL != "",
	)

	return nil
}
