package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", 8080)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("price_api.base_url", "https://api.dexscreener.com")
	v.SetDefault("price_api.timeout", "10s")
	v.SetDefault("price_api.max_tokens_per_request", 30)
	v.SetDefault("refresh.fetch_concurrency", 5)
	v.SetDefault("refresh.fetch_chunk_size", 10)
	v.SetDefault("refresh.price_change_threshold", 0.005)
	v.SetDefault("refresh.change_24h_threshold", 0.5)
	v.SetDefault("refresh.price_epsilon", 1e-6)
	v.SetDefault("refresh.token_list_ttl", "5m")
	v.SetDefault("refresh.native_balance_ttl", "5m")
	v.SetDefault("refresh.balance_ttl", "5m")
	v.SetDefault("refresh.zero_balance_ttl", "24h")
	v.SetDefault("refresh.price_ttl", "1m")
	v.SetDefault("refresh.metadata_ttl", "24h")

	// 2. Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// 3. Environment variables
	// BALANCE_TRACKER_REDIS_ADDR -> redis_addr
	// BALANCE_TRACKER_REFRESH_FETCH_CONCURRENCY -> refresh.fetch_concurrency
	v.SetEnvPrefix("BALANCE_TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 6. Validate with validator
	validate := NewValidator()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with DATABASE_URL from environment
func LoadWithDefaults(configPath string) (*Config, string, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, "", err
	}

	// DATABASE_URL is required
	v := viper.New()
	v.BindEnv("database_url", "DATABASE_URL")
	databaseURL := v.GetString("database_url")

	if databaseURL == "" {
		return nil, "", fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, databaseURL, nil
}
