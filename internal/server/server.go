// Package server exposes the swap service over HTTP.
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ggonzalez94/amm-swap/internal/config"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/ggonzalez94/amm-swap/internal/swap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	apiPrefix    = "/api/v1"
	legacyPrefix = "/api/uniswap"
)

// Service is the swap surface the handlers call into.
type Service interface {
	TokenInfo(ctx context.Context) (swap.TokenInfo, error)
	PoolInfo(ctx context.Context) ([]swap.Pool, error)
	Quote(ctx context.Context, in swap.QuoteInput) (quote.Result, error)
	Approve(ctx context.Context, in swap.ApproveInput) (swap.ApproveResult, error)
	ExecuteSwap(ctx context.Context, in swap.SwapInput) (swap.SwapResult, error)
	Config() swap.Config
	Pair() string
}

// ChainProbe answers the readiness check.
type ChainProbe interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

type Server struct {
	settings   config.ServerSettings
	svc        Service
	probe      ChainProbe
	log        zerolog.Logger
	mux        *chi.Mux
	httpServer *http.Server
}

func New(settings config.ServerSettings, svc Service, probe ChainProbe, log zerolog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server requires a swap service")
	}
	if settings.Listen == "" {
		settings.Listen = ":8080"
	}
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = 60 * time.Second
	}

	s := &Server{settings: settings, svc: svc, probe: probe, log: log}
	s.mux = s.routes()
	s.httpServer = &http.Server{
		Addr:              settings.Listen,
		Handler:           newCORSHandler(settings.AllowedOrigins, s.mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      settings.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the full handler chain, CORS included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() *chi.Mux {
	mux := chi.NewMux()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(accessLog(s.log))
	mux.Use(recoverer(s.log))
	mux.Use(middleware.Timeout(s.settings.RequestTimeout))
	if s.settings.RatePerMinute > 0 {
		mux.Use(httprate.LimitByIP(s.settings.RatePerMinute, time.Minute))
	}
	if s.settings.MaxConcurrent > 0 {
		mux.Use(middleware.Throttle(s.settings.MaxConcurrent))
	}

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "type": "not_found"})
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed", "type": "method_not_allowed"})
	})

	if s.settings.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Get("/health", s.handleHealth)
	mux.Get("/ready", s.handleReady)

	api := func(r chi.Router) {
		r.Use(noStore)
		r.Get("/token-info", s.handleTokenInfo)
		r.Get("/pool-info", s.handlePoolInfo)
		r.Post("/quote", s.handleQuote)
		r.Post("/approve", s.handleApprove)
		r.Post("/swap", s.handleSwap)
	}
	mux.Route(apiPrefix, api)
	mux.Route(legacyPrefix, api)

	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	cfg := s.svc.Config()
	s.log.Info().
		Str("address", s.settings.Listen).
		Int64("chain_id", cfg.ChainID).
		Str("dex", cfg.DEX).
		Str("pair", s.svc.Pair()).
		Bool("metrics", s.settings.Metrics).
		Msg("swap api starting")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down swap api")
	return s.httpServer.Shutdown(ctx)
}
