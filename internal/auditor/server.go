package auditor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetgate/internal/logger"
	"fleetgate/internal/server/middleware"
	"fleetgate/internal/store"
	"fleetgate/pkg/api"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds the auditor HTTP settings.
type ServerConfig struct {
	Addr   string
	Secret string
	Logger *slog.Logger
}

// Server serves the recorded action log.
type Server struct {
	httpServer *http.Server
}

// NewServer creates the auditor HTTP server. Every pinger must succeed for
// /readyz to report ready. metrics may be nil to disable /metrics.
func NewServer(cfg ServerConfig, s store.ActionStore, metrics http.Handler, probes ...Pinger) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{store: s, probes: probes, log: log}

	mux := http.NewServeMux()
	mux.Handle("GET /actions", middleware.RequireBearer(cfg.Secret)(http.HandlerFunc(h.listActions)))
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

		return s.httpServer.Shutdown(shutDownCtx)
	}
}

type handlers struct {
	store  store.ActionStore
	probes []Pinger
	log    *slog.Logger
}

// listActions serves GET /actions?instanceid=a,b&limit=n.
func (h *handlers) listActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.ActionFilter
	for _, v := range q["instanceid"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.InstanceIDs = append(filter.InstanceIDs, id)
			}
		}
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > store.DefaultListLimit {
			h.httpError(w, "limit must be between 1 and "+strconv.Itoa(store.DefaultListLimit), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	records, err := h.store.ListActions(r.Context(), filter)
	if err != nil {
		logger.FromContext(r.Context(), h.log).Error("failed to list actions", "error", err)
		h.httpError(w, "failed to list actions", http.StatusInternalServerError)
		return
	}

	resp := api.ActionLogResponse{Actions: make([]api.ActionLogEntry, 0, len(records))}
	for _, rec := range records {
		resp.Actions = append(resp.Actions, api.ActionLogEntry{
			ID:         rec.ID.String(),
			InstanceID: rec.InstanceID,
			Action:     rec.Action,
			RequestID:  rec.RequestID,
			OccurredAt: rec.OccurredAt,
			RecordedAt: rec.RecordedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readyz checks the database and the broker.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.probes {
		if err := p.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context(), h.log).Warn("readiness check failed", "error", err)
			h.httpError(w, "dependency unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) respondJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
