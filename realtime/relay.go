package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ghyeongl/scribe-relay/logging"
)

// DefaultRelayChannel is the Redis pub/sub channel carrying event frames.
const DefaultRelayChannel = "scribe-relay:events"

// RedisRelay shares event frames between instances through Redis pub/sub.
// Every instance, the publisher included, delivers what it receives.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay creates a relay on channel.
func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel}
}

// Publish sends a frame to every subscribed instance.
func (r *RedisRelay) Publish(ctx context.Context, frame []byte) error {
	if err := r.client.Publish(ctx, r.channel, frame).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes and passes every received frame to deliver until ctx ends
// or the subscription breaks.
func (r *RedisRelay) Run(ctx context.Context, subscribed func(), deliver func(frame []byte)) error {
	l := logging.Sub("relay")
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}
	l.Info("relay subscribed", "channel", r.channel)
	subscribed()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay subscription %s closed", r.channel)
			}
			deliver([]byte(msg.Payload))
		}
	}
}
