// strategy.go - The two staking policies behind one decide/apply interface.
// Contrarian bets against a uniform candle run and carries the loss-streak
// circuit breaker; FixedSide always bets one side when it trades cheap.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/0xgrin/updownbot/internal/polymarket"
)

var two = decimal.NewFromInt(2)

// Decision is a strategy's verdict for this tick's candidate market
type Decision struct {
	Bet    bool
	Side   Side
	Reason string
}

// Strategy decides the bet side and applies the stake-update policy.
// ApplyWin/ApplyLoss run inside the resolution step; Decide runs in the
// gate-and-bet step after the candle gate has reported a uniform run.
type Strategy interface {
	Name() string
	ApplyWin(st *StakeState)
	ApplyLoss(st *StakeState)
	Decide(st *StakeState, gateColor Side, quote polymarket.Quote) Decision
}

// Contrarian bets the opposite of the uniform candle color. Losses double the
// stake; when the stake has climbed to initial*2^(breakerLosses-1), the next
// loss resets it and flips the trading side instead.
type Contrarian struct {
	BreakerEnabled bool
	BreakerLosses  int
}

func (c *Contrarian) Name() string { return "contrarian" }

func (c *Contrarian) ApplyWin(st *StakeState) {
	st.Current = st.Initial
	st.AwaitingGateClear = true
}

func (c *Contrarian) ApplyLoss(st *StakeState) {
	if c.BreakerEnabled && st.Current.GreaterThanOrEqual(c.breakerThreshold(st)) {
		st.Current = st.Initial
		st.Side = st.Side.Opposite()
		return
	}
	st.Current = st.Current.Mul(two)
}

func (c *Contrarian) breakerThreshold(st *StakeState) decimal.Decimal {
	exp := decimal.NewFromInt(int64(c.BreakerLosses - 1))
	return st.Initial.Mul(two.Pow(exp))
}

func (c *Contrarian) Decide(st *StakeState, gateColor Side, _ polymarket.Quote) Decision {
	side := gateColor.Opposite()
	st.Side = side
	return Decision{
		Bet:    true,
		Side:   side,
		Reason: fmt.Sprintf("contrarian vs %s run", gateColor),
	}
}

// FixedSide always bets the configured side, but only when that side is
// quoted below the entry ceiling (a cheap-longshot entry filter). Losses
// double the stake, wins reset it; no circuit breaker.
type FixedSide struct {
	Side     Side
	MaxEntry decimal.Decimal // 0.50 unless configured otherwise
}

// NewFixedSide creates the fixed-side strategy with the default 50c ceiling
func NewFixedSide(side Side) *FixedSide {
	return &FixedSide{Side: side, MaxEntry: decimal.NewFromFloat(0.50)}
}

func (f *FixedSide) Name() string { return "fixed" }

func (f *FixedSide) ApplyWin(st *StakeState) {
	st.Current = st.Initial
	st.AwaitingGateClear = true
}

func (f *FixedSide) ApplyLoss(st *StakeState) {
	st.Current = st.Current.Mul(two)
}

func (f *FixedSide) Decide(st *StakeState, _ Side, quote polymarket.Quote) Decision {
	price := quote.Price(string(f.Side))
	if !price.IsPositive() || price.GreaterThanOrEqual(f.MaxEntry) {
		return Decision{
			Bet:    false,
			Reason: fmt.Sprintf("%s at %s, waiting for entry below %s", f.Side, price, f.MaxEntry),
		}
	}
	st.Side = f.Side
	return Decision{
		Bet:    true,
		Side:   f.Side,
		Reason: fmt.Sprintf("%s quoted cheap at %s", f.Side, price),
	}
}
