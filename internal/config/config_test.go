package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/ophunt/internal/evaluate"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "GME", cfg.DefaultTicker)
	assert.Equal(t, "finnhub", cfg.Provider)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Nil(t, cfg.MinimumDifferential)
	assert.Equal(t, evaluate.DefaultPolicy(), cfg.Policy())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("PORT", "9090")
	t.Setenv("TICKER", "amc")
	t.Setenv("PROVIDER", "Alpaca")
	t.Setenv("SPREAD_MAX_ABS", "0.25")
	t.Setenv("MIN_DIFFERENTIAL", "0.03")
	t.Setenv("BREAKER_COOLDOWN", "45s")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "AMC", cfg.DefaultTicker)
	assert.Equal(t, "alpaca", cfg.Provider)
	assert.Equal(t, 0.25, cfg.SpreadMaxAbsolute)
	require.NotNil(t, cfg.MinimumDifferential)
	assert.Equal(t, 0.03, *cfg.MinimumDifferential)
	assert.Equal(t, 45*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 20, cfg.RateLimitBurst, "invalid values fall back")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeYAML(t, `
port: "8100"
ticker: bb
provider:
  name: alpaca
  request_timeout: 5s
breaker:
  failures: 5
policy:
  spread_max_frac: 0.2
  min_differential: 0.05
  buyback_mode: flat
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "8200")

	cfg := Load()

	assert.Equal(t, "8200", cfg.Port, "environment wins over the file")
	assert.Equal(t, "BB", cfg.DefaultTicker)
	assert.Equal(t, "alpaca", cfg.Provider)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.BreakerFailures)

	policy := cfg.Policy()
	assert.Equal(t, 0.2, policy.Gates.SpreadMaxFraction)
	assert.Equal(t, 0.30, policy.Gates.SpreadMaxAbsolute)
	require.NotNil(t, policy.Gates.MinimumDifferential)
	assert.Equal(t, 0.05, *policy.Gates.MinimumDifferential)
	assert.Equal(t, evaluate.BuyBackFlat, policy.BuyBack)
}

func TestLoad_BadYAMLKeepsDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeYAML(t, "port: [unterminated"))

	cfg := Load()
	assert.Equal(t, Default().FinnhubURL, cfg.FinnhubURL)
}

func TestPolicy_UnknownBuyBackModeUsesExtrinsic(t *testing.T) {
	cfg := Default()
	cfg.BuyBackMode = "bogus"
	assert.Equal(t, evaluate.BuyBackExtrinsic, cfg.Policy().BuyBack)
}

func TestGetEnvAsFloatPtr(t *testing.T) {
	def := 0.1

	assert.Same(t, &def, GetEnvAsFloatPtr("OPHUNT_TEST_UNSET_FLOAT", &def))

	t.Setenv("OPHUNT_TEST_FLOAT", "off")
	assert.Nil(t, GetEnvAsFloatPtr("OPHUNT_TEST_FLOAT", &def))

	t.Setenv("OPHUNT_TEST_FLOAT", "0.07")
	got := GetEnvAsFloatPtr("OPHUNT_TEST_FLOAT", nil)
	require.NotNil(t, got)
	assert.Equal(t, 0.07, *got)
}

func TestLoad_YAMLZeroPolicyValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeYAML(t, `
policy:
  spread_max_abs: 0
  spread_max_frac: 0
  flat_buyback_discount: 0
`))

	cfg := Load()

	assert.Equal(t, 0.0, cfg.SpreadMaxAbsolute)
	assert.Equal(t, 0.0, cfg.SpreadMaxFraction)
	assert.Equal(t, 0.0, cfg.FlatBuyBackDiscount)
	assert.Equal(t, Default().ExtrinsicCaptureFraction, cfg.ExtrinsicCaptureFraction, "absent keys keep defaults")
}
