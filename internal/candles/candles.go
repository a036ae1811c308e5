// Package candles fetches fixed-interval OHLC bars for the reference asset
// and classifies them into up/down runs for the betting gate.
package candles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrUnavailable means the bar history could not be read or was too short.
// The gate fails closed: no bet is placed on this tick.
var ErrUnavailable = errors.New("candles unavailable")

// Colors of a classified bar
const (
	ColorUp   = "UP"
	ColorDown = "DOWN"
)

// Bar is one OHLC candle, most-recent-last in any slice
type Bar struct {
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	OpenTime time.Time
}

// Color classifies the bar. A flat bar (close == open) counts as DOWN.
func (b Bar) Color() string {
	if b.Close.GreaterThan(b.Open) {
		return ColorUp
	}
	return ColorDown
}

// Report is the result of a uniform-run check
type Report struct {
	Uniform bool
	Color   string // meaningful only when Uniform
}

// Gate reads recent bars from the Binance klines endpoint
type Gate struct {
	restURL         string
	symbol          string
	intervalMinutes int
	httpClient      *http.Client
}

// NewGate creates a candle gate for the given asset, e.g. "BTC" -> BTCUSDT
func NewGate(restURL, asset string, intervalMinutes int) *Gate {
	return &Gate{
		restURL:         strings.TrimRight(restURL, "/"),
		symbol:          strings.ToUpper(asset) + "USDT",
		intervalMinutes: intervalMinutes,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

// UniformRun fetches exactly count most-recent bars and reports whether they
// all share one color. Returns ErrUnavailable when fewer bars come back.
func (g *Gate) UniformRun(ctx context.Context, count int) (Report, error) {
	bars, err := g.RecentBars(ctx, count)
	if err != nil {
		return Report{}, err
	}
	if len(bars) < count {
		log.Debug().Int("want", count).Int("got", len(bars)).Msg("Short candle history")
		return Report{}, ErrUnavailable
	}

	first := bars[0].Color()
	for _, b := range bars[1:] {
		if b.Color() != first {
			return Report{Uniform: false}, nil
		}
	}
	return Report{Uniform: true, Color: first}, nil
}

// RecentBars returns up to count most-recent bars, most-recent-last
func (g *Gate) RecentBars(ctx context.Context, count int) ([]Bar, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		g.restURL, g.symbol, g.interval(), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines API returned status %d", resp.StatusCode)
	}

	// Each kline is a mixed-type array:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("klines decode failed: %w", err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		var openTime int64
		var open, high, low, closeP string
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			continue
		}
		if json.Unmarshal(k[1], &open) != nil ||
			json.Unmarshal(k[2], &high) != nil ||
			json.Unmarshal(k[3], &low) != nil ||
			json.Unmarshal(k[4], &closeP) != nil {
			continue
		}

		o, err1 := decimal.NewFromString(open)
		h, err2 := decimal.NewFromString(high)
		l, err3 := decimal.NewFromString(low)
		c, err4 := decimal.NewFromString(closeP)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		bars = append(bars, Bar{
			Open:     o,
			High:     h,
			Low:      l,
			Close:    c,
			OpenTime: time.UnixMilli(openTime),
		})
	}

	return bars, nil
}

func (g *Gate) interval() string {
	switch g.intervalMinutes {
	case 60:
		return "1h"
	case 240:
		return "4h"
	default:
		return fmt.Sprintf("%dm", g.intervalMinutes)
	}
}
