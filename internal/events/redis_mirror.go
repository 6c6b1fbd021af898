package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"DeepResearch/pkg/logger"
)

// Envelope is the wire form of a mirrored event.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// RedisMirrorConfig describes the Redis pub/sub target.
type RedisMirrorConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
	Source   string
	Timeout  time.Duration
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisMirror republishes every bus event on a Redis channel so observers
// outside the process can follow a run. Publishing failures are logged and
// never reach the emitter.
type RedisMirror struct {
	client  redisPublisher
	closer  func() error
	channel string
	source  string
	timeout time.Duration
	subs    []Subscription
	bus     Subscriber
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedisMirror connects to Redis and attaches the mirror to bus.
func NewRedisMirror(ctx context.Context, bus Subscriber, cfg RedisMirrorConfig) (*RedisMirror, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required for the event mirror")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	m := newRedisMirror(client, cfg)
	m.closer = client.Close
	m.Attach(bus)
	return m, nil
}

func newRedisMirror(client redisPublisher, cfg RedisMirrorConfig) *RedisMirror {
	channel := cfg.Channel
	if channel == "" {
		channel = "deepresearch:events"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisMirror{
		client:  client,
		channel: channel,
		source:  cfg.Source,
		timeout: timeout,
		logger:  logger.Named("events.redis"),
		now:     time.Now,
	}
}

// Attach subscribes the mirror to every event kind on bus.
func (m *RedisMirror) Attach(bus Subscriber) {
	m.bus = bus
	m.subs = append(m.subs,
		bus.SubscribeStep(func(ev Step) { m.publish(KindStep, ev) }),
		bus.SubscribeCitation(func(ev Citation) { m.publish(KindCitation, ev) }),
		bus.SubscribeMessage(func(ev Message) { m.publish(KindMessage, ev) }),
	)
}

func (m *RedisMirror) publish(kind Kind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("encode mirrored event", slog.Any("error", err))
		return
	}
	body, err := json.Marshal(Envelope{Kind: kind, Source: m.source, Payload: raw, At: m.now().UTC()})
	if err != nil {
		m.logger.Warn("encode mirrored envelope", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.client.Publish(ctx, m.channel, body).Err(); err != nil {
		m.logger.Warn("mirror event to redis",
			slog.String("kind", string(kind)),
			slog.String("channel", m.channel),
			slog.Any("error", err),
		)
	}
}

// Close detaches the mirror and closes its Redis connection.
func (m *RedisMirror) Close() error {
	if m == nil {
		return nil
	}
	if m.bus != nil {
		for _, sub := range m.subs {
			m.bus.Unsubscribe(sub)
		}
		m.subs = nil
	}
	if m.closer != nil {
		return m.closer()
	}
	return nil
}
