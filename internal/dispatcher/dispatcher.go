// Package dispatcher authenticates action requests, routes them to the fleet
// provider and shapes every outcome into a uniform response envelope.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fleetgate/internal/fleet"
	"fleetgate/internal/logger"
	"fleetgate/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "fleetgate/dispatcher"

// Response is the envelope returned for every request.
type Response struct {
	StatusCode int
	Body       any
}

// JSON encodes the body.
func (r Response) JSON() ([]byte, error) {
	return json.Marshal(r.Body)
}

// EventSink receives accepted start/stop actions.
type EventSink interface {
	PublishAction(ctx context.Context, ev api.ActionEvent) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithEventSink publishes an event for each accepted state change.
func WithEventSink(s EventSink) Option {
	return func(d *Dispatcher) { d.events = s }
}

// Dispatcher is safe for concurrent use; it holds no per-request state.
type Dispatcher struct {
	secret   string
	provider fleet.Provider
	events   EventSink
	log      *slog.Logger

	tracer           trace.Tracer
	requests         metric.Int64Counter
	providerDuration metric.Float64Histogram
	fleet            fleetCounts
}

// New creates a dispatcher. The secret is fixed for the life of the process;
// an empty secret makes every request fail with 412.
func New(secret string, provider fleet.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		secret:   secret,
		provider: provider,
		log:      slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := otel.Meter(instrumentationName)
	noop := metricnoop.NewMeterProvider().Meter(instrumentationName)

	requests, err := meter.Int64Counter("fleetgate.dispatch.requests",
		metric.WithDescription("Dispatched requests by action and response status"))
	if err != nil {
		d.log.Warn("failed to create request counter", "error", err)
		requests, _ = noop.Int64Counter("fleetgate.dispatch.requests")
	}
	d.requests = requests

	duration, err := meter.Float64Histogram("fleetgate.provider.duration",
		metric.WithDescription("Fleet provider call latency"),
		metric.WithUnit("s"))
	if err != nil {
		d.log.Warn("failed to create provider histogram", "error", err)
		duration, _ = noop.Float64Histogram("fleetgate.provider.duration")
	}
	d.providerDuration = duration

	if _, err := meter.Int64ObservableGauge("fleetgate.fleet.instances",
		metric.WithDescription("Instances by state as of the last status call"),
		metric.WithInt64Callback(d.fleet.observe)); err != nil {
		d.log.Warn("failed to register fleet gauge", "error", err)
	}

	return d
}

// Dispatch handles one request body. It always returns a well-formed response;
// panics raised below it are converted into a 500.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) (resp Response) {
	ctx, span := d.tracer.Start(ctx, "fleetgate.dispatch")
	defer span.End()

	log := logger.FromContext(ctx, d.log)
	action := "unknown"

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panic", "panic", fmt.Sprint(r))
			resp = failure(http.StatusInternalServerError, "internal error", "")
		}

		span.SetAttributes(
			attribute.String("fleetgate.action", action),
			attribute.Int("http.response.status_code", resp.StatusCode),
		)
		if resp.StatusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(resp.StatusCode))
		}
		d.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.Int("status", resp.StatusCode),
		))
	}()

	if d.secret == "" {
		log.Error("rejecting request: shared secret is not configured")
		return errorResponse(errNotConfigured)
	}

	fields, err := parseBody(body)
	if err != nil {
		log.Info("rejecting request", "reason", err.Error())
		return errorResponse(err)
	}

	if err := authenticate(fields, d.secret); err != nil {
		log.Warn("authentication failed", "reason", err.Error())
		return errorResponse(err)
	}

	req, err := decodeRequest(fields)
	if err != nil {
		log.Info("rejecting request", "reason", err.Error())
		return errorResponse(err)
	}
	action = req.Action

	switch req.Action {
	case api.ActionStatus:
		return d.status(ctx, log)
	case api.ActionStart:
		return d.changeState(ctx, log, req, d.provider.StartInstance)
	default:
		return d.changeState(ctx, log, req, d.provider.StopInstance)
	}
}

func (d *Dispatcher) status(ctx context.Context, log *slog.Logger) Response {
	start := time.Now()
	instances, err := d.provider.ListInstances(ctx)
	d.observe(ctx, "list", start)
	if err != nil {
		log.Error("list instances failed", "error", err)
		return errorResponse(err)
	}
	d.fleet.record(instances)

	records := make([]api.InstanceRecord, 0, len(instances))
	for _, inst := range instances {
		// Terminated instances are gone; they cannot be started or stopped.
		if inst.State == fleet.StateTerminated {
			continue
		}
		records = append(records, api.InstanceRecord{
			InstanceID: inst.ID,
			Name:       inst.Name,
			State:      string(inst.State),
			IPAddress:  inst.IPAddress,
		})
	}

	log.Info("status served", "instances", len(records))
	return Response{StatusCode: http.StatusOK, Body: api.StatusResponse{Instances: records}}
}

func (d *Dispatcher) changeState(ctx context.Context, log *slog.Logger, req Request, call func(context.Context, string) error) Response {
	log = log.With("action", req.Action, "instance_id", req.InstanceID)

	start := time.Now()
	err := call(ctx, req.InstanceID)
	d.observe(ctx, req.Action, start)
	if err != nil {
		log.Error("fleet provider rejected request", "error", err, "kind", fleet.KindOf(err).String())
		return errorResponse(err)
	}

	log.Info("state change accepted")
	d.publish(ctx, log, req)

	return Response{
		StatusCode: http.StatusOK,
		Body: api.ActionResponse{
			InstanceID: req.InstanceID,
			Action:     req.Action,
			Message:    fmt.Sprintf("Instance %s %s requested", req.InstanceID, req.Action),
		},
	}
}

func (d *Dispatcher) publish(ctx context.Context, log *slog.Logger, req Request) {
	if d.events == nil {
		return
	}
	ev := api.ActionEvent{
		InstanceID: req.InstanceID,
		Action:     req.Action,
		RequestID:  logger.RequestIDFromContext(ctx),
		Time:       time.Now().UTC(),
	}
	if err := d.events.PublishAction(ctx, ev); err != nil {
		log.Warn("failed to publish action event", "error", err)
	}
}

func (d *Dispatcher) observe(ctx context.Context, op string, start time.Time) {
	d.providerDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", op)))
}
