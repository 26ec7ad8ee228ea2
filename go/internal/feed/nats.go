package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection and stream settings for the JetStream feed.
type NATSConfig struct {
	URL           string
	StreamName    string
	MaxAge        time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the stock JetStream feed configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		StreamName:    "RALLY_CHANGES",
		MaxAge:        24 * time.Hour,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSFeed is the JetStream-backed change feed used in shared-workspace
// mode. Events are published on rally.<workspace>.<table> subjects; each
// subscription is an ephemeral filtered consumer.
type NATSFeed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config NATSConfig
}

// NewNATSFeed connects to NATS and ensures the change stream exists.
func NewNATSFeed(ctx context.Context, config NATSConfig) (*NATSFeed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{"rally.>"},
		MaxAge:   config.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure change stream: %w", err)
	}

	return &NATSFeed{nc: nc, js: js, stream: stream, config: config}, nil
}

func subject(workspaceID uuid.UUID, table string) string {
	return fmt.Sprintf("rally.%s.%s", workspaceID, table)
}

// Publish writes one change event to the stream.
func (f *NATSFeed) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if _, err := f.js.Publish(ctx, subject(ev.WorkspaceID, ev.Table), data); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe creates an ephemeral filtered consumer for one workspace/table
// pair. Only changes published after the subscription are delivered; the
// stores load current rows via point queries before subscribing.
func (f *NATSFeed) Subscribe(ctx context.Context, workspaceID uuid.UUID, table string, fn Handler) (func(), error) {
	consumer, err := f.stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subject(workspaceID, table),
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create feed consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("malformed change event")
			_ = msg.Term()
			return
		}
		fn(ev)
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("ack change event")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start feed consumer: %w", err)
	}

	log.Debug().
		Str("workspace_id", workspaceID.String()).
		Str("table", table).
		Msg("change feed subscription opened")

	return func() { consumeCtx.Stop() }, nil
}

// Close drains the underlying NATS connection.
func (f *NATSFeed) Close() {
	f.nc.Close()
}
