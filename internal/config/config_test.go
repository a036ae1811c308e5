package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "BTC", cfg.Asset)
	assert.Equal(t, 15, cfg.WindowMinutes)
	assert.True(t, cfg.DryRun, "dry run is the safe default")
	assert.True(t, cfg.InitialStake.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 3, cfg.GateRunLength)
	assert.Equal(t, "contrarian", cfg.Strategy)
	assert.True(t, cfg.BreakerEnabled)
	assert.Equal(t, 5, cfg.BreakerLosses)
	assert.Equal(t, 5, cfg.GraceSeconds)
	assert.Equal(t, "0.99", cfg.WinThreshold.String())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRADING_ASSET", "eth")
	t.Setenv("STRATEGY", "fixed")
	t.Setenv("FIXED_SIDE", "down")
	t.Setenv("INITIAL_STAKE", "2.5")
	t.Setenv("TICK_INTERVAL", "10s")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "eth", cfg.Asset)
	assert.Equal(t, "fixed", cfg.Strategy)
	assert.Equal(t, "DOWN", cfg.FixedSide)
	assert.True(t, cfg.InitialStake.Equal(decimal.NewFromFloat(2.5)))
	assert.Equal(t, 10*time.Second, cfg.TickInterval)
	assert.False(t, cfg.BreakerEnabled)
}

func TestLoad_BareTickIntervalIsMilliseconds(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "2500")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.TickInterval)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero stake", "INITIAL_STAKE", "0"},
		{"negative stake", "INITIAL_STAKE", "-5"},
		{"unknown strategy", "STRATEGY", "rebound"},
		{"bad side", "FIXED_SIDE", "SIDEWAYS"},
		{"gate run too long", "GATE_RUN_LENGTH", "50"},
		{"gate run zero", "GATE_RUN_LENGTH", "0"},
		{"breaker too eager", "BREAKER_LOSSES", "1"},
		{"bad chat id", "TELEGRAM_CHAT_ID", "not-a-number"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestMaskedKey(t *testing.T) {
	cfg := &Config{WalletPrivateKey: "0xdeadbeefcafe0123456789abcdef"}
	assert.Equal(t, "0xdead...cdef", cfg.MaskedKey())

	short := &Config{WalletPrivateKey: "abc"}
	assert.Equal(t, "****", short.MaskedKey())

	empty := &Config{}
	assert.Equal(t, "", empty.MaskedKey())
}
