// Package engine owns the staking state machine: the current stake, the set
// of in-flight positions, and the tick loop that resolves and places bets.
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an up/down market
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Opposite flips the side
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// StakeState is the single process-wide staking state. Only the resolution
// step of the tick mutates it; everything else reads.
type StakeState struct {
	Initial           decimal.Decimal
	Current           decimal.Decimal
	Side              Side
	AwaitingGateClear bool
}

// ConsecutiveLosses derives the loss streak from the doubling scheme
func (s *StakeState) ConsecutiveLosses() int {
	if s.Initial.IsZero() {
		return 0
	}
	n := 0
	amount := s.Initial
	for amount.LessThan(s.Current) {
		amount = amount.Mul(decimal.NewFromInt(2))
		n++
	}
	return n
}

// TrackedPosition is one outstanding order, keyed by market id. Created just
// before submission, removed on submission failure or once resolved.
type TrackedPosition struct {
	MarketID    string
	ConditionID string
	Side        Side
	Stake       decimal.Decimal
	PlacedAt    time.Time
}

// HistoryEntry records one resolution for the status surface
type HistoryEntry struct {
	MarketID  string          `json:"market_id"`
	Result    string          `json:"result"` // "win" or "loss"
	BetAmount decimal.Decimal `json:"bet_amount"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// historyLimit caps the in-memory resolution history
const historyLimit = 50

// Snapshot is the status contract consumed by the control surface
type Snapshot struct {
	Running           bool            `json:"running"`
	Strategy          string          `json:"strategy"`
	CurrentStake      decimal.Decimal `json:"current_stake"`
	InitialStake      decimal.Decimal `json:"initial_stake"`
	WinCount          int             `json:"win_count"`
	LossCount         int             `json:"loss_count"`
	LastResult        string          `json:"last_result"`
	LastMarketID      string          `json:"last_market_id"`
	TrackedMarkets    int             `json:"tracked_markets"`
	TradingSide       Side            `json:"trading_side"`
	AwaitingGateClear bool            `json:"awaiting_gate_clear"`
	GateRunLength     int             `json:"gate_run_length"`
	History           []HistoryEntry  `json:"history"`
}
