package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// SessionEvent is one entry in the external session-event feed. The feed is
// an optional integration tap; the live engine never depends on it.
type SessionEvent struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Feed event types.
const (
	EventSessionStarted  = "session-started"
	EventSessionExtended = "session-extended"
	EventSessionEnded    = "session-ended"
)

// Sink receives session lifecycle events. Publish must not block the caller
// on network round-trips.
type Sink interface {
	Publish(ctx context.Context, event SessionEvent) error
}

// JetStreamConfig holds configuration for the JetStream feed publisher.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultJetStreamConfig returns default feed publisher configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "CHAT_EVENTS",
		SubjectPrefix: "chat.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// JetStreamFeed publishes session events to a NATS JetStream stream.
type JetStreamFeed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamFeed connects to NATS and ensures the feed stream exists.
func NewJetStreamFeed(cfg JetStreamConfig) (*JetStreamFeed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	f := &JetStreamFeed{nc: nc, js: js, config: cfg}

	if err := f.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return f, nil
}

func (f *JetStreamFeed) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        f.config.StreamName,
		Description: "Session lifecycle events for external consumers",
		Subjects:    []string{fmt.Sprintf("%s.>", f.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      f.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := f.js.Stream(ctx, f.config.StreamName); err != nil {
		if _, err = f.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", f.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// Publish sends a session event to the feed. Publishing is asynchronous so
// the engine loop never waits on the broker.
func (f *JetStreamFeed) Publish(ctx context.Context, event SessionEvent) error {
	subject := fmt.Sprintf("%s.%s", f.config.SubjectPrefix, event.EventType)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}

	if _, err := f.js.PublishAsync(subject, data); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("room_id", event.RoomID).
		Str("event_type", event.EventType).
		Msg("feed event published")
	return nil
}

// Close drains and closes the NATS connection.
func (f *JetStreamFeed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}
