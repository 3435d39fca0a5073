// Package relay connects edge replicas through a Redis Pub/Sub channel so a
// device, player or log viewer connected to one replica can be reached from
// any other.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/protocol"
)

// Envelope kinds.
const (
	KindDeviceCommand = "device_command"
	KindPlayerNotify  = "player_notify"
	KindLog           = "log"
)

// Directions reported to the observer.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

const (
	outboxSize     = 1024
	publishTimeout = 2 * time.Second
)

// Envelope is one relayed frame. Target is a device id, player id or tenant
// id depending on Kind; Payload is the frame or log record as is.
type Envelope struct {
	Kind    string          `json:"kind"`
	Origin  string          `json:"origin"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// Receiver delivers relayed frames to local sockets only.
type Receiver interface {
	DeliverToDevice(deviceID string, frame []byte) bool
	DeliverToPlayer(playerID string, frame []byte) bool
}

// Linker binds a paired device id to a player's connection.
type Linker interface {
	Link(playerID, deviceID string) bool
}

// LogBroadcaster fans relayed log records out to local subscribers.
type LogBroadcaster interface {
	Broadcast(tenantID string, record json.RawMessage) int
}

// Observer counts relayed envelopes, may be nil.
type Observer interface {
	RelayMessage(direction, kind string)
}

// Relay publishes local misses and log records, and delivers envelopes
// published by other replicas. Delivery stays best effort.
type Relay struct {
	client   *redis.Client
	channel  string
	origin   string
	receiver Receiver
	linker   Linker
	logs     LogBroadcaster
	observer Observer

	outbox         chan Envelope
	subscribed     chan struct{}
	subscribedOnce sync.Once
	initialBackoff time.Duration
}

// Options collects the local collaborators of a relay.
type Options struct {
	Receiver Receiver
	Linker   Linker
	Logs     LogBroadcaster
	Observer Observer
}

// ClientFromConfig builds the Redis client. A URL wins over the discrete fields.
func ClientFromConfig(cfg config.RelayConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing relay url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// New creates a relay on client. Each relay gets a random origin id so it
// can recognise and skip its own envelopes.
func New(client *redis.Client, channel string, opts Options) *Relay {
	return &Relay{
		client:         client,
		channel:        channel,
		origin:         uuid.NewString(),
		receiver:       opts.Receiver,
		linker:         opts.Linker,
		logs:           opts.Logs,
		observer:       opts.Observer,
		outbox:         make(chan Envelope, outboxSize),
		subscribed:     make(chan struct{}),
		initialBackoff: 500 * time.Millisecond,
	}
}

// Origin returns the id stamped on envelopes published by this relay.
func (r *Relay) Origin() string {
	return r.origin
}

// Subscribed is closed once the first subscription is confirmed.
func (r *Relay) Subscribed() <-chan struct{} {
	return r.subscribed
}

// ForwardToDevice publishes a frame for a device not connected here.
func (r *Relay) ForwardToDevice(deviceID string, frame []byte) {
	r.enqueue(Envelope{Kind: KindDeviceCommand, Target: deviceID, Payload: frame})
}

// ForwardToPlayer publishes a frame for a player not connected here.
func (r *Relay) ForwardToPlayer(playerID string, frame []byte) {
	r.enqueue(Envelope{Kind: KindPlayerNotify, Target: playerID, Payload: frame})
}

// PublishLog publishes a log record for the tenant's subscribers elsewhere.
func (r *Relay) PublishLog(tenantID string, record json.RawMessage) {
	r.enqueue(Envelope{Kind: KindLog, Target: tenantID, Payload: record})
}

// enqueue never blocks; a full outbox drops the envelope.
func (r *Relay) enqueue(env Envelope) {
	env.Origin = r.origin
	select {
	case r.outbox <- env:
	default:
		logging.Warn("relay outbox full, dropping envelope",
			zap.String("kind", env.Kind),
			zap.String("target", env.Target),
		)
	}
}

// Run publishes queued envelopes and keeps a subscription open, reconnecting
// with exponential backoff, until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.publishLoop(ctx)
	}()
	defer wg.Wait()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialBackoff
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := r.listen(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		logging.Warn("relay subscription lost, reconnecting",
			zap.String("channel", r.channel),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) listen(ctx context.Context, bo backoff.BackOff) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	bo.Reset()
	r.subscribedOnce.Do(func() { close(r.subscribed) })
	logging.Info("relay subscription active",
		zap.String("channel", r.channel),
		zap.String("origin", r.origin),
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return fmt.Errorf("relay channel closed")
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.outbox:
			r.publish(ctx, env)
		}
	}
}

func (r *Relay) publish(ctx context.Context, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error("failed to encode relay envelope", zap.String("kind", env.Kind), zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(pctx, r.channel, data).Err(); err != nil {
		logging.Warn("relay publish failed",
			zap.String("kind", env.Kind),
			zap.String("target", env.Target),
			zap.Error(err),
		)
		return
	}
	if r.observer != nil {
		r.observer.RelayMessage(DirectionOut, env.Kind)
	}
}

// handle delivers one envelope from another replica to local sockets.
func (r *Relay) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Warn("invalid relay envelope", zap.Error(err))
		return
	}
	if env.Origin == r.origin || env.Target == "" {
		return
	}
	if r.observer != nil {
		r.observer.RelayMessage(DirectionIn, env.Kind)
	}

	switch env.Kind {
	case KindDeviceCommand:
		if r.receiver != nil {
			r.receiver.DeliverToDevice(env.Target, env.Payload)
		}
	case KindPlayerNotify:
		if r.receiver == nil || !r.receiver.DeliverToPlayer(env.Target, env.Payload) {
			return
		}
		// the replica holding the player completes the pairing link
		frame := gjson.ParseBytes(env.Payload)
		if r.linker != nil && frame.Get("type").Str == protocol.TypeDevicePaired {
			if deviceID := frame.Get("deviceId").Str; deviceID != "" {
				r.linker.Link(env.Target, deviceID)
			}
		}
	case KindLog:
		if r.logs != nil {
			r.logs.Broadcast(env.Target, env.Payload)
		}
	default:
		logging.Debug("unknown relay envelope kind", zap.String("kind", env.Kind))
	}
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}
