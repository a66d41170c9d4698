package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL           string
	ClientName    string
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration
	// events are deduplicated on their id within this window, so a relay
	// retry after a lost ack is not delivered twice
	DuplicateWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		ClientName:      "pokerclock",
		StreamName:      "TOURNAMENT_EVENTS",
		SubjectPrefix:   "tournament.events",
		MaxAge:          72 * time.Hour,
		DuplicateWindow: 10 * time.Minute,
	}
}

// JetStreamPublisher publishes outbox events to a JetStream stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Tournament clock timer and failover events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.DuplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("stream %s: %w", cfg.StreamName, err)
	}

	log.Info().
		Str("stream", cfg.StreamName).
		Uint64("messages", stream.CachedInfo().State.Msgs).
		Msg("event bus ready")
	return &JetStreamPublisher{nc: nc, js: js, config: cfg}, nil
}

// dial keeps reconnecting forever: the relay holds events in the outbox
// while the bus is away.
func dial(cfg JetStreamConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("event bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("event bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	return nc, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	data, err := encode(event)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(Subject(p.config.SubjectPrefix, event))
	msg.Data = data
	msg.Header.Set("Event-Type", event.EventType)

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if ack.Duplicate {
		log.Debug().Str("event_id", event.ID.String()).Msg("bus already had event")
	}
	return nil
}

// Connected reports the NATS connection state for health checks.
func (p *JetStreamPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
