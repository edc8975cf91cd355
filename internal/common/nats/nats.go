// Package nats publishes domain events to a single JetStream stream and
// delivers them to per-replica subscriptions.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"

	"bolao/internal/common/events"
)

// Config holds NATS configuration
type Config struct {
	URL           string        `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	Name          string        `envconfig:"NATS_CLIENT_NAME" default:"bolao"`
	MaxReconnects int           `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
	ReconnectWait time.Duration `envconfig:"NATS_RECONNECT_WAIT" default:"2s"`
	Stream        string        `envconfig:"EVENT_STREAM" default:"BOLAO_EVENTS"`
	StreamMaxAge  time.Duration `envconfig:"EVENT_STREAM_MAX_AGE" default:"168h"`
	// SubscriberIdle is how long a replica's consumer survives without a
	// client before the server removes it.
	SubscriberIdle time.Duration `envconfig:"NATS_SUBSCRIBER_IDLE" default:"5m"`
}

// Client publishes to and consumes from the bolao event stream
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger *slog.Logger
}

var _ events.Publisher = (*Client)(nil)

// New connects to NATS and makes sure the event stream exists
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{"events.>"},
		MaxAge:    cfg.StreamMaxAge,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", cfg.Stream, err)
	}

	logger.Info("NATS connected", "url", conn.ConnectedUrl(), "stream", cfg.Stream)
	return &Client{conn: conn, js: js, cfg: cfg, logger: logger}, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	c.conn.Close()
}

// HealthCheck reports whether the connection is up
func (c *Client) HealthCheck() error {
	if !c.conn.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// Subject returns the subject an event is published on. Subscribers can
// filter on a single aggregate, e.g. events.bolao.bet.placed.<poolID>.
func Subject(event *events.Event) string {
	if event.AggregateID == "" {
		return "events." + event.Type
	}
	return fmt.Sprintf("events.%s.%s", event.Type, event.AggregateID)
}

// Publish implements events.Publisher
func (c *Client) Publish(ctx context.Context, event *events.Event) error {
	subject := Subject(event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing %s: %w", event.Type, err)
	}

	c.logger.Debug("event published", "event_id", event.ID, "subject", subject)
	return nil
}

// Handler processes one event. A returned error redelivers it.
type Handler func(ctx context.Context, event *events.Event) error

// Broadcast delivers every new event of eventType to handler on this replica
// only. Each call creates its own consumer, so all replicas see every event.
// It blocks until ctx is done.
func (c *Client) Broadcast(ctx context.Context, name, eventType string, handler Handler) error {
	consumerName := name + "-" + ulid.Make().String()
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Name:              consumerName,
		FilterSubject:     "events." + eventType + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           30 * time.Second,
		MaxDeliver:        5,
		InactiveThreshold: c.cfg.SubscriberIdle,
	})
	if err != nil {
		return fmt.Errorf("creating consumer %s: %w", consumerName, err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("consuming %s: %w", consumerName, err)
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	log := c.logger.With("consumer", consumerName)
	log.Info("subscribed", "event_type", eventType)
	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return err
			}
			log.Error("reading next message", "error", err)
			continue
		}
		c.deliver(ctx, log, msg, handler)
	}
}

func (c *Client) deliver(ctx context.Context, log *slog.Logger, msg jetstream.Msg, handler Handler) {
	var event events.Event
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// Redelivery cannot fix a malformed payload.
		log.Error("dropping unreadable event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, &event); err != nil {
		log.Error("handling event", "event_id", event.ID, "type", event.Type, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		log.Warn("acknowledging event", "event_id", event.ID, "error", err)
	}
}
