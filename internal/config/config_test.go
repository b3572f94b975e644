package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_IncrementOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Grid.IncrementPercent = 0
	assert.Error(t, cfg.Validate())

	cfg.Grid.IncrementPercent = 100
	assert.Error(t, cfg.Validate())
}

func TestValidate_StartPriceDerivationRequiresPriceMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Grid.StartPrice = "auto"
	assert.Error(t, cfg.Validate(), "derived start_price without price_mode must fail")

	cfg.Grid.PriceMode = "auto"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LiteralStartPriceRejectsPriceMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Grid.PriceMode = "market"
	assert.Error(t, cfg.Validate(), "price_mode must be empty for a literal start_price")
}

func TestValidate_FundsTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Funds.Buy = "25%"
	assert.NoError(t, cfg.Validate())

	cfg.Funds.Buy = "0%"
	assert.Error(t, cfg.Validate())

	cfg.Funds.Buy = "not-a-number"
	assert.Error(t, cfg.Validate())
}

func TestValidate_PairRequiresDistinctAssets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pair.AssetB = cfg.Pair.AssetA
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridbot.yaml")

	yamlDoc := `
exchange:
  account_ref: acct-1
pair:
  asset_a: BTS
  asset_b: USD
  precision_a: 5
  precision_b: 4
grid:
  start_price: "0.02"
  min_price: "0.01"
  max_price: "0.04"
  increment_percent: 1
  target_spread_percent: 2
  active_orders:
    buy: 3
    sell: 3
  weight_distribution:
    buy: 0.5
    sell: 0.5
  active: true
funds:
  buy: "1000"
  sell: "50000"
system:
  log_level: INFO
  bot_key: bot-1
  snapshot_path: gridbot.db
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "BTS", cfg.Pair.AssetA)
	assert.Equal(t, 3, cfg.Grid.ActiveOrders.Buy)
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = Secret("super-secret-key")
	out := cfg.String()
	assert.NotContains(t, out, "super-secret-key")
	assert.Contains(t, out, "REDACTED")
}
