// ws.go - Real-time CLOB price feed over WebSocket. Keeps the latest best
// bid/ask per token so quote reads cost no network round trip.
package polymarket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const marketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// staleAfter bounds how old a cached WS price may be before reads miss
const staleAfter = 30 * time.Second

// PriceFeed caches live best bid/ask per outcome token
type PriceFeed struct {
	url string

	conn      *websocket.Conn
	connected bool
	mu        sync.Mutex

	subscribed map[string]bool

	books   map[string]*tokenBook
	booksMu sync.RWMutex

	stopCh chan struct{}
}

type tokenBook struct {
	bestBid   decimal.Decimal
	bestAsk   decimal.Decimal
	updatedAt time.Time
}

// wsBookSnapshot is the initial order book message after subscribing
type wsBookSnapshot struct {
	AssetID string `json:"asset_id"`
	Bids    []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// wsPriceChange is the incremental update message
type wsPriceChange struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

// NewPriceFeed creates a disconnected price feed
func NewPriceFeed() *PriceFeed {
	return &PriceFeed{
		url:        marketWSURL,
		subscribed: make(map[string]bool),
		books:      make(map[string]*tokenBook),
		stopCh:     make(chan struct{}),
	}
}

// Connect dials the market channel and starts the reader
func (f *PriceFeed) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connected {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	f.conn = conn
	f.connected = true
	go f.readLoop()

	log.Info().Str("url", f.url).Msg("📡 Price feed connected")
	return nil
}

// Subscribe registers interest in a market's two outcome tokens
func (f *PriceFeed) Subscribe(conditionID, upTokenID, downTokenID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected || f.subscribed[conditionID] {
		return
	}

	msg := map[string]interface{}{
		"type":       "market",
		"assets_ids": []string{upTokenID, downTokenID},
	}
	payload, _ := json.Marshal(msg)
	if err := f.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Warn().Err(err).Msg("Price feed subscribe failed")
		return
	}

	f.subscribed[conditionID] = true
}

// BuyPrices returns the current best asks for both tokens. ok is false when
// either token has no fresh cached book.
func (f *PriceFeed) BuyPrices(upTokenID, downTokenID string) (up, down decimal.Decimal, ok bool) {
	f.booksMu.RLock()
	defer f.booksMu.RUnlock()

	upBook, hasUp := f.books[upTokenID]
	downBook, hasDown := f.books[downTokenID]
	if !hasUp || !hasDown {
		return decimal.Zero, decimal.Zero, false
	}

	now := time.Now()
	if now.Sub(upBook.updatedAt) > staleAfter || now.Sub(downBook.updatedAt) > staleAfter {
		return decimal.Zero, decimal.Zero, false
	}

	// Best ask is what a buy actually executes at
	return upBook.bestAsk, downBook.bestAsk, true
}

func (f *PriceFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		_, message, err := f.conn.ReadMessage()
		if err != nil {
			f.handleDisconnect(err)
			return
		}
		f.handleMessage(message)
	}
}

func (f *PriceFeed) handleMessage(data []byte) {
	var change wsPriceChange
	if err := json.Unmarshal(data, &change); err == nil && change.EventType == "price_change" {
		f.applyChange(&change)
		return
	}

	// Initial subscription response arrives as an array of book snapshots
	var snapshots []wsBookSnapshot
	if err := json.Unmarshal(data, &snapshots); err == nil {
		for i := range snapshots {
			f.applySnapshot(&snapshots[i])
		}
	}
}

func (f *PriceFeed) applySnapshot(snap *wsBookSnapshot) {
	var bestBid, bestAsk decimal.Decimal
	if len(snap.Bids) > 0 {
		bestBid, _ = decimal.NewFromString(snap.Bids[0].Price)
	}
	if len(snap.Asks) > 0 {
		bestAsk, _ = decimal.NewFromString(snap.Asks[0].Price)
	}

	f.booksMu.Lock()
	f.books[snap.AssetID] = &tokenBook{bestBid: bestBid, bestAsk: bestAsk, updatedAt: time.Now()}
	f.booksMu.Unlock()
}

func (f *PriceFeed) applyChange(change *wsPriceChange) {
	f.booksMu.Lock()
	defer f.booksMu.Unlock()

	for _, c := range change.PriceChanges {
		book, ok := f.books[c.AssetID]
		if !ok {
			book = &tokenBook{}
			f.books[c.AssetID] = book
		}
		book.bestBid, _ = decimal.NewFromString(c.BestBid)
		book.bestAsk, _ = decimal.NewFromString(c.BestAsk)
		book.updatedAt = time.Now()
	}
}

func (f *PriceFeed) handleDisconnect(cause error) {
	f.mu.Lock()
	f.connected = false
	f.subscribed = make(map[string]bool)
	f.mu.Unlock()

	select {
	case <-f.stopCh:
		return
	default:
	}

	log.Warn().Err(cause).Msg("Price feed disconnected, reconnecting in 5s...")
	time.Sleep(5 * time.Second)

	if err := f.Connect(); err != nil {
		log.Error().Err(err).Msg("Price feed reconnect failed")
	}
}

// Close stops the feed
func (f *PriceFeed) Close() {
	close(f.stopCh)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connected = false
}
