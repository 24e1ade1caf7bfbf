package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Config represents the application configuration
type Config struct {
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required,hostname_port"`
	LogLevel      string        `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	HTTPPort      int           `mapstructure:"http_port" validate:"omitempty,min=1024,max=65535"`
	SweepInterval string        `mapstructure:"sweep_interval" validate:"omitempty,duration"`
	Chains        []ChainConfig `mapstructure:"chains" validate:"required,min=1,dive"`
	PriceAPI      PriceAPIConfig `mapstructure:"price_api"`
	Refresh       RefreshConfig  `mapstructure:"refresh"`
}

// ChainConfig describes one chain the tracker serves
type ChainConfig struct {
	ID             string        `mapstructure:"id" validate:"required,min=1,max=32"`
	RPCURLs        []string      `mapstructure:"rpc_urls" validate:"required,min=1,dive,url"`
	NativeSymbol   string        `mapstructure:"native_symbol" validate:"required,min=1,max=16"`
	NativeName     string        `mapstructure:"native_name"`
	NativeDecimals uint8         `mapstructure:"native_decimals"`
	PriceChainID   string        `mapstructure:"price_chain_id" validate:"required"`
	Tokens         []TokenConfig `mapstructure:"tokens" validate:"dive"`
}

// TokenConfig is one contract the chain provider enumerates during
// token discovery
type TokenConfig struct {
	Address          string `mapstructure:"address" validate:"required,eth_addr"`
	FallbackDecimals uint8  `mapstructure:"fallback_decimals"`
}

// PriceAPIConfig configures the external price source
type PriceAPIConfig struct {
	BaseURL             string        `mapstructure:"base_url" validate:"required,url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxTokensPerRequest int           `mapstructure:"max_tokens_per_request" validate:"min=1,max=100"`
}

// RefreshConfig carries the tunables of the balance and price pipeline
type RefreshConfig struct {
	FetchConcurrency     int           `mapstructure:"fetch_concurrency" validate:"min=1,max=64"`
	FetchChunkSize       int           `mapstructure:"fetch_chunk_size" validate:"min=1,max=100"`
	PriceChangeThreshold float64       `mapstructure:"price_change_threshold" validate:"gt=0,lt=1"`
	Change24hThreshold   float64       `mapstructure:"change_24h_threshold" validate:"gt=0"`
	PriceEpsilon         float64       `mapstructure:"price_epsilon" validate:"gt=0"`
	TokenListTTL         time.Duration `mapstructure:"token_list_ttl"`
	NativeBalanceTTL     time.Duration `mapstructure:"native_balance_ttl"`
	BalanceTTL           time.Duration `mapstructure:"balance_ttl"`
	ZeroBalanceTTL       time.Duration `mapstructure:"zero_balance_ttl"`
	PriceTTL             time.Duration `mapstructure:"price_ttl"`
	MetadataTTL          time.Duration `mapstructure:"metadata_ttl"`
}

// SweepDuration parses the sweep interval, defaulting to five minutes
func (c *Config) SweepDuration() time.Duration {
	if c.SweepInterval == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ethAddressValidator validates EVM contract and wallet addresses
func ethAddressValidator(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// durationValidator validates duration strings
func durationValidator(fl validator.FieldLevel) bool {
	if fl.Field().String() == "" {
		return true
	}
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// NewValidator creates a validator with custom validation rules
func NewValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("eth_addr", ethAddressValidator)
	validate.RegisterValidation("duration", durationValidator)
	return validate
}
