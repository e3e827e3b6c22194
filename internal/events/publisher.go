// Package events publishes accepted fleet actions to NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleetgate/pkg/api"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "fleet.actions"

var errNotConnected = errors.New("nats not connected")

// Publisher sends one JSON message per accepted start or stop.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to url. The connection reconnects forever, so a
// broker outage never blocks the dispatch path.
func NewPublisher(url, subject string, log *slog.Logger) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("fleetgate-dispatcher"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// PublishAction encodes ev and publishes it.
func (p *Publisher) PublishAction(ctx context.Context, ev api.ActionEvent) error {
	if p.nc == nil || p.nc.IsClosed() {
		return errNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.nc.Publish(p.subject, payload)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
