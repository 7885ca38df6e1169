package board

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel shared by all API instances.
const DefaultChannel = "board:events"

const (
	minResubscribeDelay = 500 * time.Millisecond
	maxResubscribeDelay = 30 * time.Second
)

// Relay turns board events from the bus into hub messages. With Redis every
// instance publishes to one channel and broadcasts what it receives, so
// viewers connected to any instance see every update.
type Relay struct {
	hub     *Hub
	rdb     redis.UniversalClient
	channel string
	log     *logger.Logger

	// subscribed is set while this instance receives the shared channel.
	// Until then events are also broadcast locally.
	subscribed atomic.Bool
	retryDelay time.Duration
}

// NewRelay creates a relay. A nil rdb keeps fan-out local to this process.
func NewRelay(hub *Hub, rdb redis.UniversalClient, channel string, log *logger.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Relay{hub: hub, rdb: rdb, channel: channel, log: log, retryDelay: minResubscribeDelay}
}

// Register subscribes the relay to every board event on bus.
func (r *Relay) Register(bus events.Bus) {
	for _, name := range events.BoardEventNames {
		bus.Subscribe(name, events.HandlerFunc(r.handle))
	}
}

func (r *Relay) handle(ctx context.Context, event events.Event) error {
	be, ok := event.(events.BoardEvent)
	if !ok {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	msg := Message{Type: event.EventName(), PipelineID: be.BoardPipelineID(), Data: data}

	if r.rdb == nil {
		r.hub.Broadcast(msg)
		return nil
	}
	if !r.subscribed.Load() {
		r.hub.Broadcast(msg)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		if r.subscribed.Load() {
			// Keep local viewers current even when the shared channel is down.
			r.hub.Broadcast(msg)
		}
		return fmt.Errorf("publish board event: %w", err)
	}
	return nil
}

// Run forwards messages from the Redis channel to the hub until ctx is done.
// A failed or dropped subscription is retried with backoff; meanwhile board
// events reach this instance's viewers through local fan-out. Run only
// returns nil. Without Redis it just waits for ctx.
func (r *Relay) Run(ctx context.Context) error {
	if r.rdb == nil {
		<-ctx.Done()
		return nil
	}

	delay := r.retryDelay
	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = r.retryDelay
		}
		r.log.Warn("board relay unsubscribed, falling back to local fan-out", "channel", r.channel, "error", err, "retryIn", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxResubscribeDelay)
	}
}

// listen consumes the shared channel until ctx is done or the subscription
// ends. A nil error means the subscription was established first.
func (r *Relay) listen(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	r.log.Info("board relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Warn("dropping malformed board message", "error", err)
				continue
			}
			r.hub.Broadcast(msg)
		}
	}
}
