// quotes.go - Current executable buy prices for both sides of a window.
// Primary source is the live WS cache, then the CLOB REST price endpoint.
// When both fail the snapshot prices from the gamma metadata are used.
package polymarket

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

// ErrUnavailable means no quote source produced a usable price for either
// side. Callers skip the market this tick; it is not a fault.
var ErrUnavailable = errors.New("quotes unavailable")

// Quote holds the current best executable buy prices for a window
type Quote struct {
	Up   decimal.Decimal
	Down decimal.Decimal
}

// Price returns the quoted buy price for the given outcome, "UP" or "DOWN"
func (q Quote) Price(side string) decimal.Decimal {
	if side == "UP" {
		return q.Up
	}
	return q.Down
}

// QuoteReader fetches executable buy prices for outcome tokens
type QuoteReader struct {
	clobURL    string
	httpClient *http.Client
	feed       *PriceFeed // optional, nil when the WS feed is down
}

// NewQuoteReader creates a quote reader against the CLOB price endpoint
func NewQuoteReader(clobURL string) *QuoteReader {
	return &QuoteReader{
		clobURL:    strings.TrimRight(clobURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetFeed attaches a live WS price feed used ahead of the REST endpoint
func (r *QuoteReader) SetFeed(feed *PriceFeed) {
	r.feed = feed
}

// Quote returns current buy prices for both outcomes of the window.
// Returns ErrUnavailable when every source yields zero for both sides.
func (r *QuoteReader) Quote(ctx context.Context, w *Window) (Quote, error) {
	// Live WS cache first, no network round trip
	if r.feed != nil {
		if up, down, ok := r.feed.BuyPrices(w.UpTokenID, w.DownTokenID); ok && !up.IsZero() {
			r.feed.Subscribe(w.ConditionID, w.UpTokenID, w.DownTokenID)
			return Quote{Up: up, Down: down}, nil
		}
		r.feed.Subscribe(w.ConditionID, w.UpTokenID, w.DownTokenID)
	}

	up, upErr := r.fetchPrice(ctx, w.UpTokenID)
	down, downErr := r.fetchPrice(ctx, w.DownTokenID)
	if upErr == nil && downErr == nil && (!up.IsZero() || !down.IsZero()) {
		return Quote{Up: up, Down: down}, nil
	}
	if upErr != nil || downErr != nil {
		log.Debug().
			AnErr("up_err", upErr).
			AnErr("down_err", downErr).
			Str("market", w.MarketID).
			Msg("CLOB price fetch failed, falling back to snapshot")
	}

	// Secondary: snapshot prices embedded in the market metadata
	if !w.UpSnapshot.IsZero() || !w.DownSnapshot.IsZero() {
		return Quote{Up: w.UpSnapshot, Down: w.DownSnapshot}, nil
	}

	return Quote{}, ErrUnavailable
}

func (r *QuoteReader) fetchPrice(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/price?token_id=%s&side=BUY", r.clobURL, tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("price decode failed: %w", err)
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad price %q: %w", result.Price, err)
	}
	return price, nil
}
