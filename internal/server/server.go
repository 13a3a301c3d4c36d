// Package server is the admin HTTP API: health, queue inspection and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/server/handler"
	"github.com/alanyoungcy/polyindexer/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // per client per RateWindow; 0 disables limiting
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health *handler.HealthHandler
	Queues *handler.QueueHandler
	Index  *handler.IndexHandler
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths skip authentication so probes and scrapers need no key.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      newHandler(cfg, handlers, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/queues", handlers.Queues.ListQueues)
	mux.HandleFunc("GET /api/queues/{name}/failed", handlers.Queues.ListFailed)
	mux.HandleFunc("GET /api/queues/{name}/jobs/{id}", handlers.Queues.GetJob)
	mux.HandleFunc("POST /api/queues/{name}/jobs/{id}/retry", handlers.Queues.RetryJob)

	mux.HandleFunc("GET /api/stats", handlers.Index.Stats)
	mux.HandleFunc("GET /api/markets/{tokenId}", handlers.Index.GetMarketByToken)
	mux.HandleFunc("GET /api/trades", handlers.Index.ListTrades)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
