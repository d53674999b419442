// Package epochbus propagates registry refreshes between processes over
// Redis pub/sub. A process that reloads its module configuration publishes
// an event; every other subscribed process refreshes its own registry, which
// advances its epoch and retires cached auth contexts.
package epochbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "authchain:refresh"

// Refresher is the registry side of the bus.
type Refresher interface {
	Refresh(ctx context.Context) error
	Epoch() uint64
}

// Event is the payload published on every local refresh.
type Event struct {
	Origin     string `json:"origin"`
	AppContext string `json:"app_context,omitempty"`
	Epoch      uint64 `json:"epoch"`
}

// Options configures a Bus.
type Options struct {
	Channel    string
	AppContext string
	Logger     *slog.Logger
}

// Bus publishes local refreshes and applies remote ones.
type Bus struct {
	client     redis.UniversalClient
	target     Refresher
	channel    string
	appContext string
	origin     string
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// New creates a bus bound to target.
func New(client redis.UniversalClient, target Refresher, opts Options) (*Bus, error) {
	if client == nil {
		return nil, errors.New("epochbus: redis client is required")
	}
	if target == nil {
		return nil, errors.New("epochbus: refresh target is required")
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		client:     client,
		target:     target,
		channel:    channel,
		appContext: opts.AppContext,
		origin:     uuid.NewString(),
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Origin identifies this process on the channel.
func (b *Bus) Origin() string {
	return b.origin
}

// Refresh refreshes the local registry and announces the new epoch. A failed
// local refresh is not announced.
func (b *Bus) Refresh(ctx context.Context) error {
	if err := b.target.Refresh(ctx); err != nil {
		return err
	}
	return b.Publish(ctx)
}

// Publish announces the current epoch of the local registry.
func (b *Bus) Publish(ctx context.Context) error {
	payload, err := json.Marshal(Event{
		Origin:     b.origin,
		AppContext: b.appContext,
		Epoch:      b.target.Epoch(),
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Start subscribes to the channel and applies remote events until ctx is
// cancelled. It returns once the subscription is confirmed.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	b.started = true

	b.logger.Info("epoch bus subscribed", "channel", b.channel, "origin", b.origin)
	go b.loop(ctx, pubsub)
	return nil
}

// Done is closed when the subscription loop exits.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

func (b *Bus) loop(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.apply(ctx, msg.Payload)
		}
	}
}

func (b *Bus) apply(ctx context.Context, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn("discarding malformed refresh event", "channel", b.channel, "error", err)
		return
	}
	if ev.Origin == b.origin {
		return
	}
	if b.appContext != "" && ev.AppContext != "" && ev.AppContext != b.appContext {
		return
	}

	if err := b.target.Refresh(ctx); err != nil {
		b.logger.Error("remote refresh failed",
			"origin", ev.Origin,
			"remote_epoch", ev.Epoch,
			"error", err,
		)
		return
	}
	b.logger.Info("applied remote refresh",
		"origin", ev.Origin,
		"remote_epoch", ev.Epoch,
		"epoch", b.target.Epoch(),
	)
}
