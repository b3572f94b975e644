// Package config handles configuration management with validation for a
// single grid bot session.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure for one bot process.
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Pair        PairConfig        `yaml:"pair"`
	Grid        GridConfig        `yaml:"grid"`
	Funds       FundsConfig       `yaml:"funds"`
	System      SystemConfig      `yaml:"system"`
	Timing      TimingConfig      `yaml:"timing"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ExchangeConfig holds credentials and connection details for the external
// exchange collaborator (§6 external interfaces).
type ExchangeConfig struct {
	AccountRef string `yaml:"account_ref" validate:"required"`
	APIKey     Secret `yaml:"api_key"`
	SecretKey  Secret `yaml:"secret_key"`
	BaseURL    string `yaml:"base_url"`
}

// PairConfig identifies the traded pair. asset_a is the base, asset_b the
// quote (§3 data model).
type PairConfig struct {
	AssetA    string `yaml:"asset_a" validate:"required"`
	AssetB    string `yaml:"asset_b" validate:"required"`
	PrecisionA int   `yaml:"precision_a" validate:"min=0,max=18"`
	PrecisionB int   `yaml:"precision_b" validate:"min=0,max=18"`
}

// GridConfig captures the geometric ladder and boundary-crawl parameters
// enumerated in §6's configuration table.
type GridConfig struct {
	// StartPrice accepts a literal positive number, or one of "pool",
	// "market", "auto" to request startup derivation via PriceMode.
	StartPrice string `yaml:"start_price" validate:"required"`
	// MinPrice / MaxPrice accept a literal number or a "Nx" multiplier of
	// the resolved start_price (e.g. "3x" means 3*start_price for max,
	// start_price/3 for min).
	MinPrice string `yaml:"min_price" validate:"required"`
	MaxPrice string `yaml:"max_price" validate:"required"`

	IncrementPercent    float64 `yaml:"increment_percent" validate:"gt=0,lt=100"`
	TargetSpreadPercent float64 `yaml:"target_spread_percent" validate:"gt=0"`

	ActiveOrders WindowConfig `yaml:"active_orders"`

	WeightDistribution SideFloat `yaml:"weight_distribution"`

	DryRun   bool   `yaml:"dry_run"`
	Active   bool   `yaml:"active"`
	PriceMode string `yaml:"price_mode" validate:"omitempty,oneof=pool market auto"`
}

// WindowConfig is a per-side target count (active_orders in §6).
type WindowConfig struct {
	Buy  int `yaml:"buy" validate:"min=1,max=1000"`
	Sell int `yaml:"sell" validate:"min=1,max=1000"`
}

// SideFloat is a per-side float parameter such as weight_distribution.
type SideFloat struct {
	Buy  float64 `yaml:"buy" validate:"min=0,max=1"`
	Sell float64 `yaml:"sell" validate:"min=0,max=1"`
}

// FundsConfig is bot_funds in §6: accepts an absolute amount or a "P%" of
// the side's free balance at startup.
type FundsConfig struct {
	Buy  string `yaml:"buy" validate:"required"`
	Sell string `yaml:"sell" validate:"required"`
}

// SystemConfig contains process-level settings.
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	BotKey       string `yaml:"bot_key" validate:"required"`
	SnapshotPath string `yaml:"snapshot_path" validate:"required"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TimingConfig governs the cycle timer and external I/O timeouts (§5).
type TimingConfig struct {
	CycleIntervalSeconds   int `yaml:"cycle_interval_seconds" validate:"min=1,max=3600"`
	ExchangeTimeoutSeconds int `yaml:"exchange_timeout_seconds" validate:"min=1,max=300"`
	RecoveryCooldownSeconds int `yaml:"recovery_cooldown_seconds" validate:"min=1,max=3600"`
	RecoveryDecaySeconds    int `yaml:"recovery_decay_seconds" validate:"min=1,max=86400"`
}

// ConcurrencyConfig sizes the broadcast worker pool (§5).
type ConcurrencyConfig struct {
	BroadcastPoolSize   int `yaml:"broadcast_pool_size" validate:"min=1,max=100"`
	BroadcastPoolBuffer int `yaml:"broadcast_pool_buffer" validate:"min=1,max=10000"`
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts" validate:"min=1,max=20"`
}

// TelemetryConfig controls the prometheus metrics endpoint.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion for secrets.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration. Per the
// open question in the design notes, start_price precedence between
// price_mode and a derivable start_price value is resolved here: price_mode
// is required whenever start_price is one of "pool"/"market"/"auto", and
// forbidden otherwise.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validatePair(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateGrid(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateFunds(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validatePair() error {
	if c.Pair.AssetA == "" || c.Pair.AssetB == "" {
		return ValidationError{Field: "pair", Message: "asset_a and asset_b are both required"}
	}
	if c.Pair.AssetA == c.Pair.AssetB {
		return ValidationError{Field: "pair", Message: "asset_a and asset_b must differ"}
	}
	return nil
}

func (c *Config) validateGrid() error {
	if c.Grid.IncrementPercent <= 0 || c.Grid.IncrementPercent >= 100 {
		return ValidationError{Field: "grid.increment_percent", Value: c.Grid.IncrementPercent, Message: "must be in (0, 100)"}
	}

	derived := isDerivedPriceToken(c.Grid.StartPrice)
	if derived && c.Grid.PriceMode == "" {
		return ValidationError{Field: "grid.price_mode", Message: "required when start_price requests derivation (pool/market/auto)"}
	}
	if !derived {
		if _, err := strconv.ParseFloat(c.Grid.StartPrice, 64); err != nil {
			return ValidationError{Field: "grid.start_price", Value: c.Grid.StartPrice, Message: "must be a number or one of pool/market/auto"}
		}
		if c.Grid.PriceMode != "" {
			return ValidationError{Field: "grid.price_mode", Message: "must be empty when start_price is a literal number"}
		}
	}

	if c.Grid.ActiveOrders.Buy <= 0 || c.Grid.ActiveOrders.Sell <= 0 {
		return ValidationError{Field: "grid.active_orders", Message: "buy and sell target counts must be positive"}
	}

	return nil
}

func (c *Config) validateFunds() error {
	if err := validateFundsToken(c.Funds.Buy); err != nil {
		return ValidationError{Field: "funds.buy", Value: c.Funds.Buy, Message: err.Error()}
	}
	if err := validateFundsToken(c.Funds.Sell); err != nil {
		return ValidationError{Field: "funds.sell", Value: c.Funds.Sell, Message: err.Error()}
	}
	return nil
}

func validateFundsToken(token string) error {
	if strings.HasSuffix(token, "%") {
		pct := strings.TrimSuffix(token, "%")
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return fmt.Errorf("invalid percentage: %s", token)
		}
		if v <= 0 || v > 100 {
			return fmt.Errorf("percentage must be in (0, 100]")
		}
		return nil
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return fmt.Errorf("must be an absolute amount or a \"P%%\" token")
	}
	if v <= 0 {
		return fmt.Errorf("absolute amount must be positive")
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.BotKey == "" {
		return ValidationError{Field: "system.bot_key", Message: "bot_key is required to namespace the persisted snapshot"}
	}
	return nil
}

func isDerivedPriceToken(token string) bool {
	switch token {
	case "pool", "market", "auto":
		return true
	default:
		return false
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// String returns a YAML representation of the configuration with secrets
// redacted by their Secret.MarshalYAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// DefaultConfig returns a sane default configuration, primarily for tests.
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{AccountRef: "paper-account"},
		Pair: PairConfig{
			AssetA:     "BTS",
			AssetB:     "USD",
			PrecisionA: 5,
			PrecisionB: 4,
		},
		Grid: GridConfig{
			StartPrice:          "0.02",
			MinPrice:            "0.01",
			MaxPrice:            "0.04",
			IncrementPercent:    1.0,
			TargetSpreadPercent: 2.0,
			ActiveOrders:        WindowConfig{Buy: 3, Sell: 3},
			WeightDistribution:  SideFloat{Buy: 0.5, Sell: 0.5},
			Active:              true,
		},
		Funds: FundsConfig{Buy: "1000", Sell: "50000"},
		System: SystemConfig{
			LogLevel:     "INFO",
			BotKey:       "bot-1",
			SnapshotPath: "gridbot.db",
		},
		Timing: TimingConfig{
			CycleIntervalSeconds:    5,
			ExchangeTimeoutSeconds:  10,
			RecoveryCooldownSeconds: 5,
			RecoveryDecaySeconds:    300,
		},
		Concurrency: ConcurrencyConfig{
			BroadcastPoolSize:   4,
			BroadcastPoolBuffer: 64,
			MaxRecoveryAttempts: 5,
		},
	}
}
