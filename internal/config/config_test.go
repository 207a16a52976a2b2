package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"BINANCE_API_KEY", "BINANCE_API_SECRET", "BINANCE_TESTNET",
	"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "APCA_API_BASE_URL",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "DATABASE_URL",
	"TRADER_EXCHANGE", "TRADER_LOG_LEVEL", "TRADER_PAPER", "TRADER_TOP_N",
	"TRADER_CYCLE_INTERVAL", "TRADER_MAX_OPEN_POSITIONS", "TRADER_POSITION_SIZE",
	"TRADER_STOP_LOSS_PERCENT", "TRADER_TRAILING_STOP_PERCENT",
}

// isolate runs the test from an empty directory with a clean environment so
// a developer's .env or config.yaml cannot leak in.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func writeYAML(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("BINANCE_API_KEY", "test_key")
	t.Setenv("BINANCE_API_SECRET", "test_secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ExchangeBinance, cfg.Exchange)
	assert.Equal(t, "USDT", cfg.QuoteAsset)
	assert.Equal(t, 20, cfg.Scanner.TopN)
	assert.Equal(t, 60*time.Second, cfg.Scanner.CycleInterval)
	assert.Equal(t, 20, cfg.Scanner.MaxOpenPositions)
	assert.Equal(t, 100.0, cfg.Risk.PositionSize)
	assert.Equal(t, 2.0, cfg.Risk.StopLossPercent)
	assert.Equal(t, 1.5, cfg.Risk.TrailingStopPercent)
	assert.Equal(t, 0.2, cfg.Risk.EntryOffsetPercent)
	assert.Equal(t, 5*time.Minute, cfg.Risk.PendingTimeout)
	assert.Equal(t, 30.0, cfg.SignalThresholds.RSIOversold)
	assert.Equal(t, 70.0, cfg.SignalThresholds.RSIOverbought)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "test_key", cfg.BinanceAPIKey)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := writeYAML(t, dir, `
exchange: alpaca
quote_asset: USD
scanner:
  top_n: 5
  cycle_interval: 30s
risk:
  position_size: 250
  stop_loss_percent: 3
  pending_timeout: 2m
signal_thresholds:
  rsi_oversold: 25
  rsi_overbought: 75
`)
	t.Setenv("APCA_API_KEY_ID", "key")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
	t.Setenv("TRADER_TOP_N", "7")
	t.Setenv("TRADER_CYCLE_INTERVAL", "45")
	t.Setenv("TRADER_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ExchangeAlpaca, cfg.Exchange)
	assert.Equal(t, "USD", cfg.QuoteAsset)
	assert.Equal(t, 7, cfg.Scanner.TopN)
	assert.Equal(t, 45*time.Second, cfg.Scanner.CycleInterval)
	assert.Equal(t, 250.0, cfg.Risk.PositionSize)
	assert.Equal(t, 3.0, cfg.Risk.StopLossPercent)
	assert.Equal(t, 1.5, cfg.Risk.TrailingStopPercent, "omitted keys keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.Risk.PendingTimeout)
	assert.Equal(t, 25.0, cfg.SignalThresholds.RSIOversold)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoad_MissingCredentials(t *testing.T) {
	isolate(t)

	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")

	t.Setenv("TRADER_PAPER", "true")
	cfg, err := Load("")
	require.NoError(t, err, "paper mode trades without keys")
	assert.True(t, cfg.Paper)
}

func TestValidate_RejectsBadParameters(t *testing.T) {
	cfg := Default()
	cfg.Paper = true
	require.NoError(t, cfg.Validate())

	cfg.Risk.StopLossPercent = 0
	cfg.SignalThresholds.RSIOversold = 80
	cfg.Storage.Backend = StoragePostgres
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "stop_loss_percent")
	assert.Contains(t, err.Error(), "rsi_oversold")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	path := writeYAML(t, dir, "scanner: [not, a, map")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_FLOAT", "abc")
	t.Setenv("X_INT", "1.5")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 1.5, getEnvAsFloat64("X_FLOAT", 1.5))
	assert.Equal(t, 3, getEnvAsInt("X_INT", 3))
	assert.Equal(t, time.Minute, getEnvAsDuration("X_DUR", time.Minute))
	assert.True(t, getEnvAsBool("X_BOOL", true))

	t.Setenv("X_DUR", "1m30s")
	assert.Equal(t, 90*time.Second, getEnvAsDuration("X_DUR", time.Minute))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "***6789", Mask("123456789"))
}
