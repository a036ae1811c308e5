// Package polymarket provides Polymarket API integration
//
// locator.go - Locates crypto up/down window markets by their deterministic
// timestamp slug: <asset>-updown-15m-<window start unix>. The gamma API nests
// the market inside an event; callers only ever see the flattened Window.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Window is one tradable up/down prediction window
type Window struct {
	MarketID    string
	ConditionID string
	Question    string
	Slug        string
	Asset       string

	UpTokenID   string
	DownTokenID string

	// Snapshot outcome prices from the gamma metadata. Secondary quote
	// source only; live quotes come from the Quote Reader.
	UpSnapshot   decimal.Decimal
	DownSnapshot decimal.Decimal

	CloseTime time.Time
	Active    bool
	Closed    bool
}

// SecondsToClose returns the time left until the window closes, in seconds.
// Negative once the close time has passed, zero-window if CloseTime is unset.
func (w *Window) SecondsToClose(now time.Time) (float64, bool) {
	if w.CloseTime.IsZero() {
		return 0, false
	}
	return w.CloseTime.Sub(now).Seconds(), true
}

// Locator resolves window offsets to live markets via the gamma API
type Locator struct {
	gammaURL      string
	asset         string
	windowMinutes int
	httpClient    *http.Client
}

// NewLocator creates a locator for the given asset and window length
func NewLocator(gammaURL, asset string, windowMinutes int) *Locator {
	return &Locator{
		gammaURL:      strings.TrimRight(gammaURL, "/"),
		asset:         strings.ToUpper(asset),
		windowMinutes: windowMinutes,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Slug computes the canonical slug for the window offsetWindows away from now
func (l *Locator) Slug(now time.Time, offsetWindows int) string {
	interval := int64(l.windowMinutes) * 60
	windowTs := (now.Unix()/interval)*interval + int64(offsetWindows)*interval
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(l.asset), l.suffix(), windowTs)
}

func (l *Locator) suffix() string {
	switch l.windowMinutes {
	case 60:
		return "1h"
	case 240:
		return "4h"
	default:
		return fmt.Sprintf("%dm", l.windowMinutes)
	}
}

// Locate fetches the window offsetWindows away from the current one.
// Returns (nil, nil) when no active market exists for that window; that is
// "nothing to do this tick", not a fault.
func (l *Locator) Locate(ctx context.Context, offsetWindows int) (*Window, error) {
	slug := l.Slug(time.Now(), offsetWindows)

	w, err := l.fetchBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if w == nil || w.Closed || !w.Active {
		log.Debug().Str("slug", slug).Msg("No active window")
		return nil, nil
	}
	return w, nil
}

// gammaEvent mirrors the gamma /events response shape. Markets are nested
// one level inside the event; only the first market matters for updown slugs.
type gammaEvent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Active  bool   `json:"active"`
	Closed  bool   `json:"closed"`
	EndDate string `json:"endDate"`
	Markets []struct {
		ID            string `json:"id"`
		ConditionID   string `json:"conditionId"`
		Question      string `json:"question"`
		Outcomes      string `json:"outcomes"`
		OutcomePrices string `json:"outcomePrices"`
		ClobTokenIds  string `json:"clobTokenIds"`
		EndDate       string `json:"endDate"`
	} `json:"markets"`
}

func (l *Locator) fetchBySlug(ctx context.Context, slug string) (*Window, error) {
	url := fmt.Sprintf("%s/events?slug=%s", l.gammaURL, slug)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gamma request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma API returned status %d", resp.StatusCode)
	}

	var events []gammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("gamma decode failed: %w", err)
	}

	if len(events) == 0 || len(events[0].Markets) == 0 {
		return nil, nil
	}

	event := events[0]
	market := event.Markets[0]

	var tokenIDs []string
	if market.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(market.ClobTokenIds), &tokenIDs); err != nil {
			return nil, fmt.Errorf("bad clobTokenIds: %w", err)
		}
	}
	if len(tokenIDs) < 2 {
		return nil, nil
	}

	var upSnap, downSnap decimal.Decimal
	if market.OutcomePrices != "" && market.OutcomePrices != "null" {
		var prices []string
		if err := json.Unmarshal([]byte(market.OutcomePrices), &prices); err == nil && len(prices) >= 2 {
			upSnap, _ = decimal.NewFromString(prices[0])
			downSnap, _ = decimal.NewFromString(prices[1])
		}
	}

	// Market-level end date wins; the event one is a fallback
	var closeTime time.Time
	if market.EndDate != "" {
		closeTime, _ = time.Parse(time.RFC3339, market.EndDate)
	}
	if closeTime.IsZero() && event.EndDate != "" {
		closeTime, _ = time.Parse(time.RFC3339, event.EndDate)
	}

	return &Window{
		MarketID:     market.ID,
		ConditionID:  market.ConditionID,
		Question:     event.Title,
		Slug:         event.Slug,
		Asset:        l.asset,
		UpTokenID:    tokenIDs[0],
		DownTokenID:  tokenIDs[1],
		UpSnapshot:   upSnap,
		DownSnapshot: downSnap,
		CloseTime:    closeTime,
		Active:       event.Active,
		Closed:       event.Closed,
	}, nil
}
