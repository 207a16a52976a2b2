package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the trading parameters file read by Load.
const DefaultFile = "config.yaml"

var ErrInvalidConfig = errors.New("invalid configuration")

// Exchange backends.
const (
	ExchangeBinance = "binance"
	ExchangeAlpaca  = "alpaca"
)

// Storage backends.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Config struct {
	Exchange   string `yaml:"exchange"`
	QuoteAsset string `yaml:"quote_asset"`
	Paper      bool   `yaml:"paper"`

	Scanner struct {
		TopN               int           `yaml:"top_n"`
		RefreshEveryCycles int           `yaml:"refresh_every_cycles"`
		CycleInterval      time.Duration `yaml:"cycle_interval"`
		Concurrency        int           `yaml:"concurrency"`
		MaxOpenPositions   int           `yaml:"max_open_positions"`
	} `yaml:"scanner"`

	Candles struct {
		Interval string `yaml:"interval"`
		Lookback int    `yaml:"lookback"`
	} `yaml:"candles"`

	Risk struct {
		PositionSize        float64       `yaml:"position_size"`
		EntryOffsetPercent  float64       `yaml:"entry_offset_percent"`
		StopLossPercent     float64       `yaml:"stop_loss_percent"`
		TrailingStopPercent float64       `yaml:"trailing_stop_percent"`
		PendingTimeout      time.Duration `yaml:"pending_timeout"`
		EntryCooldown       time.Duration `yaml:"entry_cooldown"`
	} `yaml:"risk"`

	SignalThresholds struct {
		RSIOversold   float64 `yaml:"rsi_oversold"`
		RSIOverbought float64 `yaml:"rsi_overbought"`
	} `yaml:"signal_thresholds"`

	Storage struct {
		Backend   string `yaml:"backend"`
		StateFile string `yaml:"state_file"`
		TradeLog  string `yaml:"trade_log"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int64  `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"logging"`

	StatusAddr string `yaml:"status_addr"`

	// Secrets, from the environment only.
	BinanceAPIKey    string `yaml:"-"`
	BinanceAPISecret string `yaml:"-"`
	BinanceTestnet   bool   `yaml:"-"`
	AlpacaKeyID      string `yaml:"-"`
	AlpacaSecretKey  string `yaml:"-"`
	AlpacaBaseURL    string `yaml:"-"`
	TelegramToken    string `yaml:"-"`
	TelegramChatID   string `yaml:"-"`
	DatabaseURL      string `yaml:"-"`
}

// Default returns the built-in parameters used for anything config.yaml omits.
func Default() *Config {
	c := &Config{
		Exchange:   ExchangeBinance,
		QuoteAsset: "USDT",
	}
	c.Scanner.TopN = 20
	c.Scanner.RefreshEveryCycles = 10
	c.Scanner.CycleInterval = 60 * time.Second
	c.Scanner.Concurrency = 4
	c.Scanner.MaxOpenPositions = 20
	c.Candles.Interval = "1h"
	c.Candles.Lookback = 100
	c.Risk.PositionSize = 100
	c.Risk.EntryOffsetPercent = 0.2
	c.Risk.StopLossPercent = 2
	c.Risk.TrailingStopPercent = 1.5
	c.Risk.PendingTimeout = 5 * time.Minute
	c.SignalThresholds.RSIOversold = 30
	c.SignalThresholds.RSIOverbought = 70
	c.Storage.Backend = StorageFile
	c.Storage.StateFile = "positions.json"
	c.Storage.TradeLog = "logs/trade_history.log"
	c.Logging.Level = "INFO"
	c.Logging.File = "spot_trader.log"
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxBackups = 5
	return c
}

// Load reads .env into the environment, then path (if it exists) over the
// defaults, then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := Default()
	if path == "" {
		path = DefaultFile
	}
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Printf("Warning: %s not found, using built-in defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logEnvFile()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	c.BinanceAPISecret = os.Getenv("BINANCE_API_SECRET")
	c.BinanceTestnet = getEnvAsBool("BINANCE_TESTNET", false)
	c.AlpacaKeyID = os.Getenv("APCA_API_KEY_ID")
	c.AlpacaSecretKey = os.Getenv("APCA_API_SECRET_KEY")
	c.AlpacaBaseURL = os.Getenv("APCA_API_BASE_URL")
	c.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	c.DatabaseURL = os.Getenv("DATABASE_URL")

	if v := os.Getenv("TRADER_EXCHANGE"); v != "" {
		c.Exchange = strings.ToLower(v)
	}
	if v := os.Getenv("TRADER_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToUpper(v)
	}
	c.Paper = getEnvAsBool("TRADER_PAPER", c.Paper)
	c.Scanner.TopN = getEnvAsInt("TRADER_TOP_N", c.Scanner.TopN)
	c.Scanner.CycleInterval = getEnvAsDuration("TRADER_CYCLE_INTERVAL", c.Scanner.CycleInterval)
	c.Scanner.MaxOpenPositions = getEnvAsInt("TRADER_MAX_OPEN_POSITIONS", c.Scanner.MaxOpenPositions)
	c.Risk.PositionSize = getEnvAsFloat64("TRADER_POSITION_SIZE", c.Risk.PositionSize)
	c.Risk.StopLossPercent = getEnvAsFloat64("TRADER_STOP_LOSS_PERCENT", c.Risk.StopLossPercent)
	c.Risk.TrailingStopPercent = getEnvAsFloat64("TRADER_TRAILING_STOP_PERCENT", c.Risk.TrailingStopPercent)
}

// Validate rejects parameters the trader cannot run with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Exchange == ExchangeBinance || c.Exchange == ExchangeAlpaca, "exchange %q", c.Exchange)
	check(c.QuoteAsset != "", "quote_asset is empty")
	check(c.Scanner.TopN > 0, "scanner.top_n %d", c.Scanner.TopN)
	check(c.Scanner.RefreshEveryCycles > 0, "scanner.refresh_every_cycles %d", c.Scanner.RefreshEveryCycles)
	check(c.Scanner.CycleInterval > 0, "scanner.cycle_interval %s", c.Scanner.CycleInterval)
	check(c.Scanner.Concurrency > 0, "scanner.concurrency %d", c.Scanner.Concurrency)
	check(c.Scanner.MaxOpenPositions > 0, "scanner.max_open_positions %d", c.Scanner.MaxOpenPositions)
	check(c.Candles.Interval != "", "candles.interval is empty")
	check(c.Candles.Lookback >= 50, "candles.lookback %d (need at least 50)", c.Candles.Lookback)
	check(c.Risk.PositionSize > 0, "risk.position_size %v", c.Risk.PositionSize)
	check(c.Risk.EntryOffsetPercent >= 0 && c.Risk.EntryOffsetPercent < 100, "risk.entry_offset_percent %v", c.Risk.EntryOffsetPercent)
	check(c.Risk.StopLossPercent > 0 && c.Risk.StopLossPercent < 100, "risk.stop_loss_percent %v", c.Risk.StopLossPercent)
	check(c.Risk.TrailingStopPercent > 0 && c.Risk.TrailingStopPercent < 100, "risk.trailing_stop_percent %v", c.Risk.TrailingStopPercent)
	check(c.Risk.PendingTimeout > 0, "risk.pending_timeout %s", c.Risk.PendingTimeout)
	check(c.Risk.EntryCooldown >= 0, "risk.entry_cooldown %s", c.Risk.EntryCooldown)
	check(c.SignalThresholds.RSIOversold < c.SignalThresholds.RSIOverbought,
		"signal_thresholds rsi_oversold %v >= rsi_overbought %v", c.SignalThresholds.RSIOversold, c.SignalThresholds.RSIOverbought)
	check(c.Storage.Backend == StorageFile || c.Storage.Backend == StoragePostgres, "storage.backend %q", c.Storage.Backend)
	check(c.Storage.Backend != StoragePostgres || c.DatabaseURL != "", "storage.backend postgres needs DATABASE_URL")

	if !c.Paper {
		switch c.Exchange {
		case ExchangeBinance:
			check(c.BinanceAPIKey != "" && c.BinanceAPISecret != "", "missing BINANCE_API_KEY / BINANCE_API_SECRET")
		case ExchangeAlpaca:
			check(c.AlpacaKeyID != "" && c.AlpacaSecretKey != "", "missing APCA_API_KEY_ID / APCA_API_SECRET_KEY")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// secretVars are masked when echoed.
var secretVars = map[string]bool{
	"BINANCE_API_KEY":     true,
	"BINANCE_API_SECRET":  true,
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
	"TELEGRAM_BOT_TOKEN":  true,
	"DATABASE_URL":        true,
}

// Mask shows only the last 4 characters of a secret.
func Mask(val string) string {
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}

// logEnvFile prints the variables defined in .env, masking secrets.
func logEnvFile() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log.Println("--- .env File Variables ---")
	for _, key := range keys {
		if secretVars[key] {
			log.Printf("%s=%s", key, Mask(envMap[key]))
		} else {
			log.Printf("%s=%s", key, envMap[key])
		}
	}
	log.Println("---------------------------")
}
