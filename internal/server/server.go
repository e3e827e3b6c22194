// Package server exposes the dispatcher over HTTP for self-hosted deployments.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fleetgate/internal/dispatcher"
	"fleetgate/internal/fleet"
	"fleetgate/internal/server/middleware"
)

// Dispatcher is the part of *dispatcher.Dispatcher the server needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte) dispatcher.Response
}

// Config holds the server settings.
type Config struct {
	Addr           string
	RateLimit      float64
	RateLimitBurst int
	Logger         *slog.Logger

	// Key rate limit buckets by the proxy-appended X-Forwarded-For hop.
	TrustForwardedFor bool
}

// Server is the HTTP server for the dispatcher.
type Server struct {
	httpServer *http.Server
}

// New creates a new server. probe may be nil, in which case readiness only
// reports that the process is up. metrics may be nil to disable /metrics.
func New(cfg Config, d Dispatcher, probe fleet.Pinger, metrics http.Handler) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{dispatcher: d, probe: probe, log: log}
	limit := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst,
		middleware.WithTrustForwarded(cfg.TrustForwardedFor)).Middleware()

	mux := http.NewServeMux()

	// Dispatch endpoints; the root path matches the API Gateway proxy shape
	mux.Handle("POST /{$}", limit(http.HandlerFunc(h.dispatch)))
	mux.Handle("POST /dispatch", limit(http.HandlerFunc(h.dispatch)))

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.RequestID(middleware.Tracing(mux)),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
