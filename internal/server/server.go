// Package server exposes the worker's local surface: liveness, status and
// price reads over HTTP, plus the client WebSocket endpoint backed by the
// hub. The price data itself arrives over the broadcast bus, so this surface
// behaves identically on the leader and on followers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/callmedraxx/mevu-sub004/internal/server/handler"
	"github.com/callmedraxx/mevu-sub004/internal/server/middleware"
	"github.com/callmedraxx/mevu-sub004/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AuthToken protects /api/ routes when non-empty.
	AuthToken string
	// RateLimitPerMin caps requests per client IP per minute; 0 disables.
	RateLimitPerMin int
}

// Handlers aggregates the endpoints the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Prices  *handler.PriceHandler
	Archive *handler.ArchiveHandler // nil when archival is not configured
}

// Server is the worker's HTTP + WebSocket front end.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with all routes registered. limiter may be nil;
// rate limiting then stays off regardless of configuration.
func New(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// Liveness stays outside the /api/ auth boundary.
	mux.HandleFunc("GET /healthz", handlers.Health.Healthz)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/status", handlers.Status.Status)
	api.HandleFunc("GET /api/v1/prices/{gameID}", handlers.Prices.GetGamePrice)
	api.HandleFunc("GET /api/v1/prices/{gameID}/markets", handlers.Prices.ListGameMarkets)
	api.HandleFunc("GET /api/v1/markets/{ticker}", handlers.Prices.GetMarketQuote)
	if handlers.Archive != nil {
		api.HandleFunc("GET /api/v1/archives", handlers.Archive.List)
		api.HandleFunc("GET /api/v1/archives/{path...}", handlers.Archive.Get)
	}

	var apiChain http.Handler = api
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		apiChain = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(apiChain)
	}
	apiChain = middleware.Auth(cfg.AuthToken)(apiChain)
	mux.Handle("/api/", apiChain)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
