package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Trading asset and window
	Asset         string
	WindowMinutes int

	// Mode
	DryRun bool
	Debug  bool

	// Staking
	InitialStake   decimal.Decimal
	TickInterval   time.Duration
	GateRunLength  int
	Strategy       string // "contrarian" or "fixed"
	FixedSide      string // "UP" or "DOWN", used by the fixed strategy
	BreakerEnabled bool
	BreakerLosses  int

	// Resolution
	GraceSeconds int
	WinThreshold decimal.Decimal

	// Candles
	CandleInterval int // minutes

	// Polymarket API
	GammaURL string
	CLOBURL  string

	// Binance API
	BinanceURL string

	// Wallet / CLOB credentials
	WalletPrivateKey string
	FunderAddress    string
	SignerAddress    string
	SignatureType    int // 0=EOA, 1=Magic/Email, 2=Proxy

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64

	// Control surface
	ListenAddr string

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Asset:         getEnv("TRADING_ASSET", "BTC"),
		WindowMinutes: getEnvInt("WINDOW_MINUTES", 15),

		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		InitialStake:   getEnvDecimal("INITIAL_STAKE", decimal.NewFromInt(1)),
		TickInterval:   getEnvDuration("TICK_INTERVAL", 5*time.Second),
		GateRunLength:  getEnvInt("GATE_RUN_LENGTH", 3),
		Strategy:       getEnv("STRATEGY", "contrarian"),
		FixedSide:      strings.ToUpper(getEnv("FIXED_SIDE", "UP")),
		BreakerEnabled: getEnvBool("BREAKER_ENABLED", true),
		BreakerLosses:  getEnvInt("BREAKER_LOSSES", 5),

		GraceSeconds: getEnvInt("RESOLVE_GRACE_SECONDS", 5),
		WinThreshold: getEnvDecimal("WIN_THRESHOLD", decimal.NewFromFloat(0.99)),

		CandleInterval: getEnvInt("CANDLE_INTERVAL_MINUTES", 15),

		GammaURL:   getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:    getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		BinanceURL: getEnv("BINANCE_API_URL", "https://api.binance.com"),

		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		FunderAddress:    os.Getenv("FUNDER_ADDRESS"),
		SignerAddress:    os.Getenv("SIGNER_ADDRESS"),
		SignatureType:    getEnvInt("SIGNATURE_TYPE", 0),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DatabasePath: getEnv("DATABASE_PATH", "data/updownbot.db"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the operator-facing settings
func (c *Config) Validate() error {
	if !c.InitialStake.IsPositive() {
		return fmt.Errorf("INITIAL_STAKE must be positive, got %s", c.InitialStake)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.GateRunLength < 1 || c.GateRunLength > 20 {
		return fmt.Errorf("GATE_RUN_LENGTH must be in [1,20], got %d", c.GateRunLength)
	}
	if c.Strategy != "contrarian" && c.Strategy != "fixed" {
		return fmt.Errorf("STRATEGY must be \"contrarian\" or \"fixed\", got %q", c.Strategy)
	}
	if c.FixedSide != "UP" && c.FixedSide != "DOWN" {
		return fmt.Errorf("FIXED_SIDE must be UP or DOWN, got %q", c.FixedSide)
	}
	if c.BreakerLosses < 2 {
		return fmt.Errorf("BREAKER_LOSSES must be at least 2, got %d", c.BreakerLosses)
	}
	if c.WindowMinutes <= 0 {
		return fmt.Errorf("WINDOW_MINUTES must be positive, got %d", c.WindowMinutes)
	}
	return nil
}

// MaskedKey returns the wallet key with everything but a short prefix and
// suffix removed, safe to echo back through the control surface.
func (c *Config) MaskedKey() string {
	return maskSecret(c.WalletPrivateKey)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are treated as milliseconds
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
