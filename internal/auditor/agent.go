// Package auditor records accepted fleet actions and serves them back.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleetgate/internal/events"
	"fleetgate/internal/store"
	"fleetgate/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "fleetgate/auditor"

// recordNamespace seeds record IDs so a redelivered event maps to the same row.
var recordNamespace = uuid.MustParse("6f0c1f4e-3a47-4c1b-9a53-2f1d3b7e8c90")

// ErrInvalidEvent is returned by Record for events that cannot be stored.
var ErrInvalidEvent = errors.New("invalid action event")

// Subscription delivers events until its context is cancelled.
type Subscription interface {
	Run(ctx context.Context, handle events.HandlerFunc) error
}

// Agent writes every consumed action event to the store.
type Agent struct {
	store store.ActionStore
	log   *slog.Logger
	now   func() time.Time
	done  chan struct{}

	tracer  trace.Tracer
	records metric.Int64Counter
}

// New creates an agent. log may be nil.
func New(s store.ActionStore, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	records, err := otel.Meter(instrumentationName).Int64Counter("fleetgate.audit.records",
		metric.WithDescription("Consumed action events by result"))
	if err != nil {
		log.Warn("failed to create audit counter", "error", err)
		records, _ = metricnoop.NewMeterProvider().Meter(instrumentationName).Int64Counter("fleetgate.audit.records")
	}

	return &Agent{
		store:   s,
		log:     log,
		now:     time.Now,
		done:    make(chan struct{}),
		tracer:  otel.Tracer(instrumentationName),
		records: records,
	}
}

// Run consumes sub until ctx is cancelled, then closes Done.
func (a *Agent) Run(ctx context.Context, sub Subscription) error {
	defer close(a.done)
	a.log.Info("auditor agent started")

	err := sub.Run(ctx, a.Record)
	if errors.Is(err, context.Canceled) {
		a.log.Info("auditor agent stopped")
	}
	return err
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Record validates ev and stores it.
func (a *Agent) Record(ctx context.Context, ev api.ActionEvent) error {
	ctx, span := a.tracer.Start(ctx, "fleetgate.audit.record", trace.WithAttributes(
		attribute.String("fleetgate.action", ev.Action),
		attribute.String("fleetgate.instance_id", ev.InstanceID),
	))
	defer span.End()

	rec, err := a.toRecord(ev)
	if err != nil {
		a.count(ctx, "invalid")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := a.store.RecordAction(ctx, rec); err != nil {
		a.count(ctx, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("record action: %w", err)
	}

	a.count(ctx, "recorded")
	a.log.Debug("action recorded", "id", rec.ID, "instance_id", rec.InstanceID, "action", rec.Action, "request_id", rec.RequestID)
	return nil
}

func (a *Agent) toRecord(ev api.ActionEvent) (*store.ActionRecord, error) {
	id := strings.TrimSpace(ev.InstanceID)
	if id == "" {
		return nil, fmt.Errorf("%w: missing instanceid", ErrInvalidEvent)
	}
	if ev.Action != api.ActionStart && ev.Action != api.ActionStop {
		return nil, fmt.Errorf("%w: action %q", ErrInvalidEvent, ev.Action)
	}

	now := a.now().UTC()
	occurred := ev.Time.UTC()
	if ev.Time.IsZero() {
		occurred = now
	}

	key := strings.Join([]string{ev.RequestID, id, ev.Action, occurred.Format(time.RFC3339Nano)}, "|")
	return &store.ActionRecord{
		ID:         uuid.NewSHA1(recordNamespace, []byte(key)),
		InstanceID: id,
		Action:     ev.Action,
		RequestID:  ev.RequestID,
		OccurredAt: occurred,
		RecordedAt: now,
	}, nil
}

func (a *Agent) count(ctx context.Context, result string) {
	a.records.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
