// Package config loads server configuration from an optional YAML file with
// environment-variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/papertrade/engine/internal/rules"
)

// Duration wraps time.Duration so config files can spell intervals as
// "30s" or "2m". Bare integers are taken as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %v", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration.
type Config struct {
	// Port is the HTTP listen port. Overridden by $PORT.
	Port string

	// DatabaseURL enables the PostgreSQL store when set. Overridden by
	// $DATABASE_URL. Empty means the in-memory store.
	DatabaseURL string

	// RedisURL enables the Redis quote cache when set. Overridden by
	// $REDIS_URL.
	RedisURL string

	// InitialBalance is the cash granted to new accounts.
	InitialBalance decimal.Decimal

	// Fees configures commission, taxes, and order size rules.
	Fees rules.Config

	// MonitorInterval is the pending-order scan cadence. Zero pauses the
	// monitor.
	MonitorInterval Duration

	// QuoteTTL is how long a cached quote stays fresh.
	QuoteTTL Duration

	// QuoteTimeout bounds a single upstream quote fetch.
	QuoteTimeout Duration
}

// fileConfig mirrors Config with YAML-native scalar types. Money and rates
// arrive as plain numbers and convert to decimal once at load. Pointer
// fields distinguish "absent, keep the default" from an explicit zero.
type fileConfig struct {
	Port            string    `yaml:"port"`
	DatabaseURL     string    `yaml:"database_url"`
	RedisURL        string    `yaml:"redis_url"`
	InitialBalance  *float64  `yaml:"initial_balance"`
	MonitorInterval *Duration `yaml:"monitor_interval"`
	QuoteTTL        *Duration `yaml:"quote_ttl"`
	QuoteTimeout    *Duration `yaml:"quote_timeout"`
	Fees            struct {
		CommissionRate  *float64 `yaml:"commission_rate"`
		MinCommission   *float64 `yaml:"min_commission"`
		StampTaxRate    *float64 `yaml:"stamp_tax_rate"`
		TransferFeeRate *float64 `yaml:"transfer_fee_rate"`
		MinTransferFee  *float64 `yaml:"min_transfer_fee"`
		MinNotional     *float64 `yaml:"min_notional"`
		LotSize         *int64   `yaml:"lot_size"`
	} `yaml:"fees"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:            "8080",
		InitialBalance:  decimal.NewFromInt(1000000),
		Fees:            rules.DefaultConfig(),
		MonitorInterval: Duration(15 * time.Second),
		QuoteTTL:        Duration(30 * time.Second),
		QuoteTimeout:    Duration(10 * time.Second),
	}
}

// Load reads path (when non-empty and present) over the defaults, then
// applies environment overrides. A missing file is not an error; a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
			fc.apply(&cfg)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}

	if !cfg.InitialBalance.IsPositive() {
		return cfg, fmt.Errorf("initial_balance must be positive, got %s", cfg.InitialBalance)
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = Duration(30 * time.Second)
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = Duration(10 * time.Second)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) {
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.RedisURL != "" {
		cfg.RedisURL = fc.RedisURL
	}
	if fc.InitialBalance != nil {
		cfg.InitialBalance = decimal.NewFromFloat(*fc.InitialBalance)
	}
	if fc.MonitorInterval != nil {
		cfg.MonitorInterval = *fc.MonitorInterval
	}
	if fc.QuoteTTL != nil {
		cfg.QuoteTTL = *fc.QuoteTTL
	}
	if fc.QuoteTimeout != nil {
		cfg.QuoteTimeout = *fc.QuoteTimeout
	}

	setDec := func(dst *decimal.Decimal, src *float64) {
		if src != nil {
			*dst = decimal.NewFromFloat(*src)
		}
	}
	setDec(&cfg.Fees.CommissionRate, fc.Fees.CommissionRate)
	setDec(&cfg.Fees.MinCommission, fc.Fees.MinCommission)
	setDec(&cfg.Fees.StampTaxRate, fc.Fees.StampTaxRate)
	setDec(&cfg.Fees.TransferFeeRate, fc.Fees.TransferFeeRate)
	setDec(&cfg.Fees.MinTransferFee, fc.Fees.MinTransferFee)
	setDec(&cfg.Fees.MinNotional, fc.Fees.MinNotional)
	if fc.Fees.LotSize != nil {
		cfg.Fees.LotSize = *fc.Fees.LotSize
	}
}
