// engine.go - The tick state machine. One tick resolves outstanding
// positions, applies the stake policy, and places at most one new order,
// all under a single mutual-exclusion boundary.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/0xgrin/updownbot/internal/candles"
	"github.com/0xgrin/updownbot/internal/config"
	"github.com/0xgrin/updownbot/internal/polymarket"
)

// Locator resolves window offsets to markets. A nil window means no active
// market exists for that offset; it is not an error.
type Locator interface {
	Locate(ctx context.Context, offsetWindows int) (*polymarket.Window, error)
}

// QuoteSource returns current buy prices for both sides of a window
type QuoteSource interface {
	Quote(ctx context.Context, w *polymarket.Window) (polymarket.Quote, error)
}

// CandleGate reports whether the last N bars share one color
type CandleGate interface {
	UniformRun(ctx context.Context, count int) (candles.Report, error)
}

// OrderGateway submits and inspects orders on the exchange
type OrderGateway interface {
	Init(ctx context.Context) error
	HasOpenOrder(ctx context.Context, conditionID string) (bool, error)
	SubmitBuyOrder(ctx context.Context, tokenID string, price, stake decimal.Decimal) (string, error)
}

// Ledger persists bets; optional
type Ledger interface {
	RecordBet(marketID, conditionID, orderID, side string, amount decimal.Decimal, strategy string) error
	RecordResult(marketID, result string) error
}

// Notifier pushes trade events to the operator; optional
type Notifier interface {
	BetPlaced(marketID string, side Side, stake decimal.Decimal)
	BetResolved(marketID, result string, stake decimal.Decimal)
	BreakerTripped(newSide Side)
}

// Engine is the staking state machine
type Engine struct {
	cfg      *config.Config
	locator  Locator
	quotes   QuoteSource
	gate     CandleGate
	gateway  OrderGateway
	strategy Strategy
	ledger   Ledger   // may be nil
	notifier Notifier // may be nil

	// mu serializes whole ticks and guards everything below. A second tick
	// cannot start Steps A-C until the first has fully exited.
	mu           sync.Mutex
	state        StakeState
	tracked      map[string]*TrackedPosition
	history      []HistoryEntry
	winCount     int
	lossCount    int
	lastResult   string
	lastMarketID string

	// orderMu is the order lock around the betting critical section.
	// Non-blocking: if it is already held the tick skips betting entirely.
	orderMu sync.Mutex
}

// New creates an engine with the initial stake state from config
func New(cfg *config.Config, locator Locator, quotes QuoteSource, gate CandleGate, gateway OrderGateway, strategy Strategy) *Engine {
	return &Engine{
		cfg:      cfg,
		locator:  locator,
		quotes:   quotes,
		gate:     gate,
		gateway:  gateway,
		strategy: strategy,
		state: StakeState{
			Initial: cfg.InitialStake,
			Current: cfg.InitialStake,
			Side:    Side(cfg.FixedSide),
		},
		tracked: make(map[string]*TrackedPosition),
	}
}

// SetLedger attaches the bet ledger
func (e *Engine) SetLedger(l Ledger) { e.ledger = l }

// SetNotifier attaches the operator notifier
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// InitGateway performs the one-time gateway setup (session credentials).
// Failure is fatal: the controller refuses to start.
func (e *Engine) InitGateway(ctx context.Context) error {
	return e.gateway.Init(ctx)
}

// Tick runs one full cycle: resolve outstanding positions, apply the stake
// policy, then evaluate the gate and possibly place one order.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resolvePositions(ctx)
	e.gateAndBet(ctx)
}

// resolvePositions is Step A + B: for every tracked position, find its
// market, and once the close time is within the grace threshold compute
// win/loss from the quote and apply the stake policy immediately.
func (e *Engine) resolvePositions(ctx context.Context) {
	if len(e.tracked) == 0 {
		return
	}

	// Positions may span a window boundary, so scan current and next
	windows := e.locateWindows(ctx)

	for marketID, pos := range e.tracked {
		w := windows[pos.ConditionID]
		if w == nil {
			log.Debug().Str("market", marketID).Msg("Tracked market not visible, retrying next tick")
			continue
		}

		secs, ok := w.SecondsToClose(time.Now())
		if !ok {
			// Unparseable close time defers resolution
			continue
		}
		if secs > float64(e.cfg.GraceSeconds) {
			continue
		}

		quote, err := e.quotes.Quote(ctx, w)
		if err != nil {
			// Position stays tracked; the next tick retries
			log.Debug().Err(err).Str("market", marketID).Msg("No quote for resolution, deferring")
			continue
		}

		// Resolution is committed now: drop the position first so a
		// concurrent path can never process it twice.
		delete(e.tracked, marketID)

		sidePrice := quote.Price(string(pos.Side))
		win := sidePrice.GreaterThanOrEqual(e.cfg.WinThreshold)
		e.applyResult(pos, win, sidePrice)
	}
}

// applyResult is Step B for a single resolution
func (e *Engine) applyResult(pos *TrackedPosition, win bool, sidePrice decimal.Decimal) {
	sideBefore := e.state.Side

	result := "loss"
	if win {
		result = "win"
		e.strategy.ApplyWin(&e.state)
		e.winCount++
	} else {
		e.strategy.ApplyLoss(&e.state)
		e.lossCount++
	}

	log.Info().
		Str("market", pos.MarketID).
		Str("result", result).
		Str("side", string(pos.Side)).
		Str("stake", pos.Stake.String()).
		Str("side_price", sidePrice.String()).
		Str("next_stake", e.state.Current.String()).
		Msg("🎲 Position resolved")

	if !win && e.state.Side != sideBefore {
		log.Warn().
			Str("new_side", string(e.state.Side)).
			Msg("🚨 Loss streak breaker: stake reset, side flipped")
		if e.notifier != nil {
			e.notifier.BreakerTripped(e.state.Side)
		}
	}

	e.lastResult = result
	e.lastMarketID = pos.MarketID
	e.history = append(e.history, HistoryEntry{
		MarketID:  pos.MarketID,
		Result:    result,
		BetAmount: pos.Stake,
		Side:      pos.Side,
		Timestamp: time.Now(),
	})
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}

	if e.ledger != nil {
		if err := e.ledger.RecordResult(pos.MarketID, result); err != nil {
			log.Warn().Err(err).Msg("Failed to persist resolution")
		}
	}
	if e.notifier != nil {
		e.notifier.BetResolved(pos.MarketID, result, pos.Stake)
	}
}

// gateAndBet is Step C: check the candle gate, pick a side, and place at
// most one order on the target window.
func (e *Engine) gateAndBet(ctx context.Context) {
	report, err := e.gate.UniformRun(ctx, e.cfg.GateRunLength)
	if err != nil {
		if e.state.AwaitingGateClear {
			log.Debug().Msg("Waiting for candle gate (unavailable)")
		}
		return
	}
	if !report.Uniform {
		if e.state.AwaitingGateClear {
			log.Debug().Msg("Waiting for candle gate (mixed run)")
		}
		return
	}

	// A full uniform run clears the post-win hold, whichever color it shows
	if e.state.AwaitingGateClear {
		e.state.AwaitingGateClear = false
		log.Info().Str("color", report.Color).Msg("✅ Candle gate cleared")
	}

	w := e.targetWindow(ctx)
	if w == nil {
		return
	}

	// First double-check, before taking the order lock
	if _, exists := e.tracked[w.MarketID]; exists {
		return
	}
	open, err := e.gateway.HasOpenOrder(ctx, w.ConditionID)
	if err != nil {
		log.Warn().Err(err).Str("market", w.MarketID).Msg("Open-order check failed, skipping tick")
		return
	}
	if open {
		log.Debug().Str("market", w.MarketID).Msg("Order already open, skipping")
		return
	}

	quote, err := e.quotes.Quote(ctx, w)
	if err != nil {
		log.Debug().Err(err).Str("market", w.MarketID).Msg("No quotes, skipping bet")
		return
	}

	decision := e.strategy.Decide(&e.state, Side(report.Color), quote)
	if !decision.Bet {
		log.Debug().Str("reason", decision.Reason).Msg("Strategy declined")
		return
	}

	e.placeOrder(ctx, w, quote, decision)
}

// placeOrder is the betting critical section. The tracked position is
// recorded before the network call and rolled back on failure; the lock is
// released on every exit path.
func (e *Engine) placeOrder(ctx context.Context, w *polymarket.Window, quote polymarket.Quote, decision Decision) {
	if !e.orderMu.TryLock() {
		log.Debug().Msg("Order lock held, skipping bet this tick")
		return
	}
	defer e.orderMu.Unlock()

	// Second double-check, inside the lock
	if _, exists := e.tracked[w.MarketID]; exists {
		return
	}
	open, err := e.gateway.HasOpenOrder(ctx, w.ConditionID)
	if err != nil || open {
		return
	}

	// The stake for this order is fixed here; later state mutations must
	// not affect an order already in flight.
	stake := e.state.Current

	tokenID := w.UpTokenID
	if decision.Side == SideDown {
		tokenID = w.DownTokenID
	}
	price := quote.Price(string(decision.Side))

	e.tracked[w.MarketID] = &TrackedPosition{
		MarketID:    w.MarketID,
		ConditionID: w.ConditionID,
		Side:        decision.Side,
		Stake:       stake,
		PlacedAt:    time.Now(),
	}

	orderID, err := e.gateway.SubmitBuyOrder(ctx, tokenID, price, stake)
	if err != nil {
		delete(e.tracked, w.MarketID)
		log.Error().Err(err).Str("market", w.MarketID).Msg("Order submission failed")
		return
	}

	log.Info().
		Str("market", w.MarketID).
		Str("side", string(decision.Side)).
		Str("stake", stake.String()).
		Str("price", price.String()).
		Str("order_id", orderID).
		Str("reason", decision.Reason).
		Msg("💰 Bet placed")

	if e.ledger != nil {
		if err := e.ledger.RecordBet(w.MarketID, w.ConditionID, orderID, string(decision.Side), stake, e.strategy.Name()); err != nil {
			log.Warn().Err(err).Msg("Failed to persist bet")
		}
	}
	if e.notifier != nil {
		e.notifier.BetPlaced(w.MarketID, decision.Side, stake)
	}
}

// locateWindows fetches the current and next window, keyed by condition id
func (e *Engine) locateWindows(ctx context.Context) map[string]*polymarket.Window {
	windows := make(map[string]*polymarket.Window, 2)
	for _, offset := range []int{0, 1} {
		w, err := e.locator.Locate(ctx, offset)
		if err != nil {
			log.Debug().Err(err).Int("offset", offset).Msg("Window lookup failed")
			continue
		}
		if w != nil {
			windows[w.ConditionID] = w
		}
	}
	return windows
}

// targetWindow picks the market to bet on: the current window, else the next
func (e *Engine) targetWindow(ctx context.Context) *polymarket.Window {
	for _, offset := range []int{0, 1} {
		w, err := e.locator.Locate(ctx, offset)
		if err != nil {
			log.Debug().Err(err).Int("offset", offset).Msg("Target window lookup failed")
			continue
		}
		if w != nil {
			return w
		}
	}
	return nil
}

// Snapshot returns the current status for the control surface
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := make([]HistoryEntry, len(e.history))
	copy(history, e.history)

	return Snapshot{
		Strategy:          e.strategy.Name(),
		CurrentStake:      e.state.Current,
		InitialStake:      e.state.Initial,
		WinCount:          e.winCount,
		LossCount:         e.lossCount,
		LastResult:        e.lastResult,
		LastMarketID:      e.lastMarketID,
		TrackedMarkets:    len(e.tracked),
		TradingSide:       e.state.Side,
		AwaitingGateClear: e.state.AwaitingGateClear,
		GateRunLength:     e.cfg.GateRunLength,
		History:           history,
	}
}
