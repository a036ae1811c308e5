// Package notify pushes trade events to the operator over Telegram.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/0xgrin/updownbot/internal/engine"
)

// Telegram sends one-way notifications to a chat
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot API. Returns an error when the token is
// rejected; callers treat a missing token as "notifications disabled".
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth failed: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("📣 Telegram notifier ready")
	return &Telegram{api: api, chatID: chatID}, nil
}

// BetPlaced announces a new order
func (t *Telegram) BetPlaced(marketID string, side engine.Side, stake decimal.Decimal) {
	t.send(fmt.Sprintf("💰 Bet placed: %s $%s on %s", side, stake.StringFixed(2), marketID))
}

// BetResolved announces a win or loss
func (t *Telegram) BetResolved(marketID, result string, stake decimal.Decimal) {
	icon := "✅"
	if result == "loss" {
		icon = "❌"
	}
	t.send(fmt.Sprintf("%s %s: $%s on %s", icon, result, stake.StringFixed(2), marketID))
}

// BreakerTripped announces a loss-streak reset and side flip
func (t *Telegram) BreakerTripped(newSide engine.Side) {
	t.send(fmt.Sprintf("🚨 Circuit breaker: stake reset, now betting %s", newSide))
}

func (t *Telegram) send(text string) {
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
