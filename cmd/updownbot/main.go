// Updownbot - Martingale staking bot for crypto up/down prediction windows
//
// The bot polls Polymarket for the current 15-minute up/down window, gates
// entries on a uniform candle run from Binance, and sizes stakes with a
// doubling progression: wins reset to the initial stake, losses double it,
// and an optional circuit breaker resets and flips sides after a streak.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/0xgrin/updownbot/internal/candles"
	"github.com/0xgrin/updownbot/internal/clob"
	"github.com/0xgrin/updownbot/internal/config"
	"github.com/0xgrin/updownbot/internal/database"
	"github.com/0xgrin/updownbot/internal/engine"
	"github.com/0xgrin/updownbot/internal/notify"
	"github.com/0xgrin/updownbot/internal/polymarket"
	"github.com/0xgrin/updownbot/internal/server"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("asset", cfg.Asset).
		Str("strategy", cfg.Strategy).
		Str("initial_stake", cfg.InitialStake.String()).
		Bool("dry_run", cfg.DryRun).
		Msg("🎰 Updownbot starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bet ledger
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// ====== COLLABORATORS ======

	locator := polymarket.NewLocator(cfg.GammaURL, cfg.Asset, cfg.WindowMinutes)

	quotes := polymarket.NewQuoteReader(cfg.CLOBURL)
	feed := polymarket.NewPriceFeed()
	if err := feed.Connect(); err != nil {
		log.Warn().Err(err).Msg("⚠️ Price feed unavailable, using REST quotes only")
	} else {
		quotes.SetFeed(feed)
		defer feed.Close()
	}

	gate := candles.NewGate(cfg.BinanceURL, cfg.Asset, cfg.CandleInterval)

	gateway, err := clob.New(clob.Options{
		BaseURL:          cfg.CLOBURL,
		WalletPrivateKey: cfg.WalletPrivateKey,
		SignerAddress:    cfg.SignerAddress,
		FunderAddress:    cfg.FunderAddress,
		SignatureType:    cfg.SignatureType,
		DryRun:           cfg.DryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize order gateway")
	}

	// ====== ENGINE ======

	var strategy engine.Strategy
	if cfg.Strategy == "fixed" {
		strategy = engine.NewFixedSide(engine.Side(cfg.FixedSide))
	} else {
		strategy = &engine.Contrarian{
			BreakerEnabled: cfg.BreakerEnabled,
			BreakerLosses:  cfg.BreakerLosses,
		}
	}

	eng := engine.New(cfg, locator, quotes, gate, gateway, strategy)
	eng.SetLedger(db)

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram notifier disabled")
		} else {
			eng.SetNotifier(notifier)
		}
	}

	controller := engine.NewController(eng, cfg.TickInterval)
	if err := controller.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start controller")
	}

	// ====== CONTROL SURFACE ======

	srv := server.New(cfg, controller, db)
	go func() {
		if err := srv.Run(); err != nil {
			log.Error().Err(err).Msg("Control surface failed")
		}
	}()

	log.Info().Msg("✅ All systems online")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("🛑 Shutting down...")
	controller.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Control surface shutdown failed")
	}
	log.Info().Msg("👋 Goodbye!")
}
