package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"fleetgate/internal/fleet"
	"fleetgate/internal/logger"
	"fleetgate/pkg/api"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	dispatcher Dispatcher
	probe      fleet.Pinger
	log        *slog.Logger
}

func (h *handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.httpError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.FromContext(r.Context(), h.log).Warn("failed to read request body", "error", err)
		h.httpError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), body)
	h.respondJson(w, resp.StatusCode, resp.Body)
}

// healthz is a liveness probe.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readyz checks that the fleet backend is reachable.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.probe != nil {
		if err := h.probe.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context(), h.log).Warn("readiness check failed", "error", err)
			h.httpError(w, "fleet provider unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}

// A helper function to write standard JSON responses.
func (h *handlers) respondJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
