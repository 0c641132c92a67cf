package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events as JSON on "<prefix>.<event type>" subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL string

	// SubjectPrefix is prepended to every event type. Default: "plansync"
	SubjectPrefix string

	// Name identifies this client in NATS monitoring.
	Name string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "plansync"
	}
	if cfg.Name == "" {
		cfg.Name = "plansync"
	}

	logger = logger.With("component", "events")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats at %s: %w", cfg.URL, err)
	}

	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return subject(p.prefix, eventType)
}

func subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

// Publish sends the event. The event id doubles as the JetStream dedupe id.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}

	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
