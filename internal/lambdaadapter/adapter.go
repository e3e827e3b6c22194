// Package lambdaadapter runs the dispatcher behind an API Gateway proxy
// integration.
package lambdaadapter

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fleetgate/internal/dispatcher"
	"fleetgate/internal/logger"
	"fleetgate/pkg/api"

	"github.com/aws/aws-lambda-go/events"
)

// Dispatcher is the part of *dispatcher.Dispatcher the adapter needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte) dispatcher.Response
}

const flushTimeout = 2 * time.Second

// Option configures a Handler.
type Option func(*Handler)

// WithFlush runs flush after every invocation, before the execution
// environment can be frozen.
func WithFlush(flush func(context.Context) error) Option {
	return func(h *Handler) { h.flush = flush }
}

// Handler converts API Gateway proxy events to dispatcher calls.
type Handler struct {
	dispatcher Dispatcher
	log        *slog.Logger
	flush      func(context.Context) error
}

// New creates a Handler. A nil logger means slog.Default().
func New(d Dispatcher, log *slog.Logger, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{dispatcher: d, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle never returns an error: every failure is already a response.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if id := req.RequestContext.RequestID; id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}
	defer h.flushSpans(ctx)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			logger.FromContext(ctx, h.log).Info("rejecting request", "reason", "invalid base64 body")
			return h.encode(ctx, http.StatusBadRequest, api.ErrorResponse{
				Error: "invalid request body",
				Code:  strconv.Itoa(http.StatusBadRequest),
			}), nil
		}
		body = decoded
	}

	resp := h.dispatcher.Dispatch(ctx, body)
	return h.encode(ctx, resp.StatusCode, resp.Body), nil
}

func (h *Handler) flushSpans(ctx context.Context) {
	if h.flush == nil {
		return
	}
	// The invocation deadline may already have passed.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := h.flush(flushCtx); err != nil {
		logger.FromContext(ctx, h.log).Warn("failed to flush spans", "error", err)
	}
}

func (h *Handler) encode(ctx context.Context, status int, payload any) events.APIGatewayProxyResponse {
	data, err := dispatcher.Response{StatusCode: status, Body: payload}.JSON()
	if err != nil {
		logger.FromContext(ctx, h.log).Error("failed to encode response", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error","code":"500"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}
