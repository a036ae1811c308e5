package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgrin/updownbot/internal/candles"
	"github.com/0xgrin/updownbot/internal/config"
	"github.com/0xgrin/updownbot/internal/polymarket"
)

// ---- fakes ----

type fakeLocator struct {
	windows map[int]*polymarket.Window
	err     error
}

func (f *fakeLocator) Locate(_ context.Context, offset int) (*polymarket.Window, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.windows[offset], nil
}

type fakeQuotes struct {
	quote polymarket.Quote
	err   error
}

func (f *fakeQuotes) Quote(_ context.Context, _ *polymarket.Window) (polymarket.Quote, error) {
	if f.err != nil {
		return polymarket.Quote{}, f.err
	}
	return f.quote, nil
}

type fakeGate struct {
	report candles.Report
	err    error
}

func (f *fakeGate) UniformRun(_ context.Context, _ int) (candles.Report, error) {
	if f.err != nil {
		return candles.Report{}, f.err
	}
	return f.report, nil
}

type submission struct {
	tokenID string
	price   decimal.Decimal
	stake   decimal.Decimal
}

type fakeGateway struct {
	hasOpen    bool
	hasOpenErr error
	submitErr  error
	submitted  []submission
}

func (f *fakeGateway) Init(_ context.Context) error { return nil }

func (f *fakeGateway) HasOpenOrder(_ context.Context, _ string) (bool, error) {
	return f.hasOpen, f.hasOpenErr
}

func (f *fakeGateway) SubmitBuyOrder(_ context.Context, tokenID string, price, stake decimal.Decimal) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, submission{tokenID: tokenID, price: price, stake: stake})
	return "order-1", nil
}

// ---- helpers ----

func testConfig() *config.Config {
	return &config.Config{
		Asset:         "BTC",
		WindowMinutes: 15,
		InitialStake:  decimal.NewFromInt(10),
		TickInterval:  5 * time.Second,
		GateRunLength: 3,
		Strategy:      "contrarian",
		FixedSide:     "UP",
		BreakerLosses: 5,
		GraceSeconds:  5,
		WinThreshold:  decimal.NewFromFloat(0.99),
	}
}

func openWindow(closeIn time.Duration) *polymarket.Window {
	return &polymarket.Window{
		MarketID:    "mkt-1",
		ConditionID: "cond-1",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
		CloseTime:   time.Now().Add(closeIn),
		Active:      true,
	}
}

func uniformGate(color string) *fakeGate {
	return &fakeGate{report: candles.Report{Uniform: true, Color: color}}
}

func evenQuotes() *fakeQuotes {
	return &fakeQuotes{quote: polymarket.Quote{
		Up:   decimal.NewFromFloat(0.50),
		Down: decimal.NewFromFloat(0.50),
	}}
}

// ---- tests ----

func TestTick_PlacesAtMostOneOrderPerMarket(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: openWindow(10 * time.Minute)}}
	gw := &fakeGateway{}
	e := New(testConfig(), loc, evenQuotes(), uniformGate(candles.ColorDown), gw, &Contrarian{})

	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}

	require.Len(t, gw.submitted, 1, "the tracked position must block repeat orders")
	assert.Equal(t, "tok-up", gw.submitted[0].tokenID, "contrarian bets against a DOWN run")
	assert.True(t, gw.submitted[0].stake.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, e.Snapshot().TrackedMarkets)
}

func TestTick_SubmitFailureRollsBackAndRetries(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: openWindow(10 * time.Minute)}}
	gw := &fakeGateway{submitErr: errors.New("boom")}
	e := New(testConfig(), loc, evenQuotes(), uniformGate(candles.ColorDown), gw, &Contrarian{})

	e.Tick(context.Background())

	snap := e.Snapshot()
	assert.Equal(t, 0, snap.TrackedMarkets, "failed submission must roll back the position")
	assert.True(t, snap.CurrentStake.Equal(decimal.NewFromInt(10)), "submission failure never mutates stake")

	// The order lock was released; the next tick can retry
	gw.submitErr = nil
	e.Tick(context.Background())

	require.Len(t, gw.submitted, 1)
	assert.Equal(t, 1, e.Snapshot().TrackedMarkets)
}

func TestTick_NoActiveWindowsIsANoOp(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{}}
	gw := &fakeGateway{}
	e := New(testConfig(), loc, evenQuotes(), uniformGate(candles.ColorUp), gw, &Contrarian{})

	assert.NotPanics(t, func() { e.Tick(context.Background()) })
	assert.Empty(t, gw.submitted)
}

func TestTick_GateUnavailableBlocksBetting(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: openWindow(10 * time.Minute)}}
	gw := &fakeGateway{}
	gate := &fakeGate{err: candles.ErrUnavailable}
	e := New(testConfig(), loc, evenQuotes(), gate, gw, &Contrarian{})

	e.Tick(context.Background())

	assert.Empty(t, gw.submitted)
}

func TestTick_MixedRunBlocksBetting(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: openWindow(10 * time.Minute)}}
	gw := &fakeGateway{}
	gate := &fakeGate{report: candles.Report{Uniform: false}}
	e := New(testConfig(), loc, evenQuotes(), gate, gw, &Contrarian{})

	e.Tick(context.Background())

	assert.Empty(t, gw.submitted)
}

func TestTick_ExternalOpenOrderBlocksBetting(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: openWindow(10 * time.Minute)}}
	gw := &fakeGateway{hasOpen: true}
	e := New(testConfig(), loc, evenQuotes(), uniformGate(candles.ColorDown), gw, &Contrarian{})

	e.Tick(context.Background())

	assert.Empty(t, gw.submitted)
	assert.Equal(t, 0, e.Snapshot().TrackedMarkets)
}

func TestTick_ResolvesWinAndResetsStake(t *testing.T) {
	w := openWindow(10 * time.Minute)
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: w}}
	gw := &fakeGateway{}
	quotes := evenQuotes()
	gate := uniformGate(candles.ColorDown)
	e := New(testConfig(), loc, quotes, gate, gw, &Contrarian{})

	e.Tick(context.Background()) // places an UP bet at stake 10
	require.Len(t, gw.submitted, 1)

	// Window is now closing and our side trades at 99.5c
	w.CloseTime = time.Now().Add(2 * time.Second)
	quotes.quote = polymarket.Quote{
		Up:   decimal.NewFromFloat(0.995),
		Down: decimal.NewFromFloat(0.005),
	}
	gate.report = candles.Report{Uniform: false} // keep Step C out of the way

	e.Tick(context.Background())

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.WinCount)
	assert.Equal(t, 0, snap.LossCount)
	assert.Equal(t, "win", snap.LastResult)
	assert.Equal(t, "mkt-1", snap.LastMarketID)
	assert.Equal(t, 0, snap.TrackedMarkets)
	assert.True(t, snap.CurrentStake.Equal(decimal.NewFromInt(10)))
	assert.True(t, snap.AwaitingGateClear, "a win arms the gate-clear hold")
	require.Len(t, snap.History, 1)
	assert.True(t, snap.History[0].BetAmount.Equal(decimal.NewFromInt(10)))
}

func TestTick_ResolvesLossAndDoublesStake(t *testing.T) {
	w := openWindow(10 * time.Minute)
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: w}}
	gw := &fakeGateway{}
	quotes := evenQuotes()
	gate := uniformGate(candles.ColorDown)
	e := New(testConfig(), loc, quotes, gate, gw, &Contrarian{})

	e.Tick(context.Background())
	require.Len(t, gw.submitted, 1)

	w.CloseTime = time.Now().Add(2 * time.Second)
	quotes.quote = polymarket.Quote{
		Up:   decimal.NewFromFloat(0.01),
		Down: decimal.NewFromFloat(0.99),
	}
	gate.report = candles.Report{Uniform: false}

	e.Tick(context.Background())

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.LossCount)
	assert.Equal(t, "loss", snap.LastResult)
	assert.True(t, snap.CurrentStake.Equal(decimal.NewFromInt(20)), "got %s", snap.CurrentStake)
	assert.False(t, snap.AwaitingGateClear)
}

func TestTick_QuoteFailureDefersResolution(t *testing.T) {
	w := openWindow(10 * time.Minute)
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: w}}
	gw := &fakeGateway{}
	quotes := evenQuotes()
	gate := uniformGate(candles.ColorDown)
	e := New(testConfig(), loc, quotes, gate, gw, &Contrarian{})

	e.Tick(context.Background())
	require.Len(t, gw.submitted, 1)

	w.CloseTime = time.Now().Add(2 * time.Second)
	quotes.err = polymarket.ErrUnavailable
	gate.report = candles.Report{Uniform: false}

	e.Tick(context.Background())

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.TrackedMarkets, "the position stays tracked until a quote resolves it")
	assert.Equal(t, 0, snap.WinCount)
	assert.Equal(t, 0, snap.LossCount)
	assert.True(t, snap.CurrentStake.Equal(decimal.NewFromInt(10)))
}

func TestTick_NotYetClosingKeepsPosition(t *testing.T) {
	w := openWindow(10 * time.Minute)
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: w}}
	gw := &fakeGateway{}
	gate := uniformGate(candles.ColorDown)
	e := New(testConfig(), loc, evenQuotes(), gate, gw, &Contrarian{})

	e.Tick(context.Background())
	require.Len(t, gw.submitted, 1)

	gate.report = candles.Report{Uniform: false}
	e.Tick(context.Background())

	assert.Equal(t, 1, e.Snapshot().TrackedMarkets, "far from close, nothing to resolve")
}

func TestTick_GateClearingRequiresFullUniformRun(t *testing.T) {
	w := openWindow(10 * time.Minute)
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: w}}
	gw := &fakeGateway{}
	quotes := evenQuotes()
	gate := uniformGate(candles.ColorDown)
	e := New(testConfig(), loc, quotes, gate, gw, &Contrarian{})

	// Win a bet to arm awaitingGateClear
	e.Tick(context.Background())
	w.CloseTime = time.Now().Add(2 * time.Second)
	quotes.quote = polymarket.Quote{Up: decimal.NewFromFloat(0.995), Down: decimal.NewFromFloat(0.005)}
	gate.report = candles.Report{Uniform: false}
	e.Tick(context.Background())
	require.True(t, e.Snapshot().AwaitingGateClear)

	// Unavailable and mixed runs must not clear the hold
	gate.err = candles.ErrUnavailable
	e.Tick(context.Background())
	assert.True(t, e.Snapshot().AwaitingGateClear)

	gate.err = nil
	gate.report = candles.Report{Uniform: false}
	e.Tick(context.Background())
	assert.True(t, e.Snapshot().AwaitingGateClear)

	// A fresh uniform run clears it and betting resumes
	w2 := openWindow(10 * time.Minute)
	w2.MarketID = "mkt-2"
	w2.ConditionID = "cond-2"
	loc.windows[0] = w2
	quotes.quote = polymarket.Quote{Up: decimal.NewFromFloat(0.50), Down: decimal.NewFromFloat(0.50)}
	gate.report = candles.Report{Uniform: true, Color: candles.ColorUp}
	e.Tick(context.Background())

	snap := e.Snapshot()
	assert.False(t, snap.AwaitingGateClear)
	require.Len(t, gw.submitted, 2)
	assert.Equal(t, "tok-down", gw.submitted[1].tokenID, "contrarian bets against an UP run")
}

func TestTick_OpenOrderCheckErrorSkipsBetting(t *testing.T) {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{0: openWindow(10 * time.Minute)}}
	gw := &fakeGateway{hasOpenErr: errors.New("timeout")}
	e := New(testConfig(), loc, evenQuotes(), uniformGate(candles.ColorDown), gw, &Contrarian{})

	e.Tick(context.Background())

	assert.Empty(t, gw.submitted)
	assert.Equal(t, 0, e.Snapshot().TrackedMarkets)
}

func TestTick_BetsOnNextWindowWhenCurrentMissing(t *testing.T) {
	next := openWindow(20 * time.Minute)
	next.MarketID = "mkt-next"
	next.ConditionID = "cond-next"
	loc := &fakeLocator{windows: map[int]*polymarket.Window{1: next}}
	gw := &fakeGateway{}
	e := New(testConfig(), loc, evenQuotes(), uniformGate(candles.ColorUp), gw, &Contrarian{})

	e.Tick(context.Background())

	require.Len(t, gw.submitted, 1)
	assert.Equal(t, "tok-down", gw.submitted[0].tokenID)
}
