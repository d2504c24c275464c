// Package server provides the operational HTTP and WebSocket surface of the
// engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
	"github.com/Dalcyang/oddsarb/internal/server/handler"
	"github.com/Dalcyang/oddsarb/internal/server/middleware"
	"github.com/Dalcyang/oddsarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// ReadAPIKey grants query endpoints; WriteAPIKey additionally grants
	// mutating operations. Both empty disables authentication.
	ReadAPIKey  string
	WriteAPIKey string
	// RateLimit is requests per RateWindow per client IP. Zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Optional
// handlers may be nil; their routes are then not registered, so a mode only
// exposes the surface it can actually serve.
type Handlers struct {
	Health     *handler.HealthHandler
	Events     *handler.EventHandler
	Odds       *handler.OddsHandler
	Arb        *handler.ArbHandler
	Runs       *handler.RunHandler
	Bookmakers *handler.BookmakerHandler
	Ingest     *handler.IngestHandler
	Cleanup    *handler.CleanupHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (rate limiting, auth, logging, CORS) wired. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListUpcoming)
		mux.HandleFunc("GET /api/events/{id}", handlers.Events.Get)
	}

	if handlers.Odds != nil {
		mux.HandleFunc("GET /api/odds/{event_id}", handlers.Odds.ListLatest)
		mux.HandleFunc("GET /api/odds/{event_id}/best", handlers.Odds.BestFor)
	}

	if handlers.Arb != nil {
		mux.HandleFunc("GET /api/arbitrage/active", handlers.Arb.ListActive)
		mux.HandleFunc("POST /api/arbitrage/detect", handlers.Arb.Detect)
	}

	if handlers.Runs != nil {
		mux.HandleFunc("GET /api/runs", handlers.Runs.ListRecent)
		mux.HandleFunc("GET /api/runs/{id}", handlers.Runs.Get)
	}

	if handlers.Bookmakers != nil {
		mux.HandleFunc("GET /api/bookmakers", handlers.Bookmakers.List)
		mux.HandleFunc("GET /api/bookmakers/performance", handlers.Bookmakers.Performance)
		mux.HandleFunc("PUT /api/bookmakers/{name}/active", handlers.Bookmakers.SetActive)
	}

	if handlers.Ingest != nil {
		mux.HandleFunc("POST /api/ingest", handlers.Ingest.IngestBatch)
	}

	if handlers.Cleanup != nil {
		mux.HandleFunc("POST /api/cleanup", handlers.Cleanup.Trigger)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.ReadAPIKey, cfg.WriteAPIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
