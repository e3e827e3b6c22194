package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"fleetgate/pkg/api"

	"github.com/nats-io/nats.go"
)

// HandlerFunc processes one decoded event.
type HandlerFunc func(ctx context.Context, ev api.ActionEvent) error

// Subscriber consumes action events as a member of a queue group, so several
// consumers share the stream instead of each seeing every event.
type Subscriber struct {
	nc      *nats.Conn
	subject string
	queue   string
	log     *slog.Logger
}

// NewSubscriber connects to url.
func NewSubscriber(url, subject, queue string, log *slog.Logger) (*Subscriber, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("fleetgate-"+queue),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Subscriber{nc: nc, subject: subject, queue: queue, log: log}, nil
}

// Run delivers events to handle until ctx is cancelled. Undecodable messages
// and handler errors are logged and skipped.
func (s *Subscriber) Run(ctx context.Context, handle HandlerFunc) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := s.nc.ChanQueueSubscribe(s.subject, s.queue, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	if err := s.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}
	s.log.Info("consuming action events", "subject", s.subject, "queue", s.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			var ev api.ActionEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.log.Warn("dropping undecodable event", "error", err, "bytes", len(msg.Data))
				continue
			}
			if err := handle(ctx, ev); err != nil {
				s.log.Error("failed to handle event", "error", err, "instance_id", ev.InstanceID, "action", ev.Action)
			}
		}
	}
}

// Ping reports whether the connection is up.
func (s *Subscriber) Ping(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return errNotConnected
	}
	return nil
}

// Close closes the connection.
func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
