// Package server is the thin HTTP control surface: start/stop the controller,
// inspect status and configuration, browse the bet ledger. A bad request gets
// a structured error response; nothing here can crash the process.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xgrin/updownbot/internal/config"
	"github.com/0xgrin/updownbot/internal/database"
	"github.com/0xgrin/updownbot/internal/engine"
)

// Server exposes the control endpoints
type Server struct {
	cfg        *config.Config
	controller *engine.Controller
	db         *database.Database // may be nil
	httpServer *http.Server
}

// New builds the server; Run starts listening
func New(cfg *config.Config, controller *engine.Controller, db *database.Database) *Server {
	s := &Server{cfg: cfg, controller: controller, db: db}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /bets", s.handleBets)
	mux.HandleFunc("GET /stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      logRequests(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks serving HTTP until Shutdown
func (s *Server) Run() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("🌐 Control surface listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	// The wallet key is never echoed back in full
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":           s.cfg.Asset,
		"window_minutes":  s.cfg.WindowMinutes,
		"strategy":        s.cfg.Strategy,
		"fixed_side":      s.cfg.FixedSide,
		"initial_stake":   s.cfg.InitialStake,
		"tick_interval":   s.cfg.TickInterval.String(),
		"gate_run_length": s.cfg.GateRunLength,
		"breaker_enabled": s.cfg.BreakerEnabled,
		"breaker_losses":  s.cfg.BreakerLosses,
		"grace_seconds":   s.cfg.GraceSeconds,
		"win_threshold":   s.cfg.WinThreshold,
		"dry_run":         s.cfg.DryRun,
		"funder":          s.cfg.FunderAddress,
		"wallet_key":      s.cfg.MaskedKey(),
	})
}

func (s *Server) handleBets(w http.ResponseWriter, _ *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	bets, err := s.db.RecentBets(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	stats, err := s.db.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}
