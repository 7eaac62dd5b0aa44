package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-orchestrator/internal/logger"
)

// channelPrefix namespaces the stream so several deployments can share a
// Redis instance. One channel per event type.
const channelPrefix = "taskqueue:events:"

// RedisPubSub fans events out over Redis pub/sub so every API replica
// relays the same stream to its WebSocket clients, regardless of which
// process produced the event.
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub wraps an existing Redis client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish sends event on its type's channel. Delivery is fire-and-forget;
// subscribers that are not listening at publish time never see it.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("events: serialize: %w", err)
	}

	channel := channelName(event.Type)
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}

	logger.Debug().Str("event_type", string(event.Type)).Msg("event published")
	return nil
}

// Subscribe listens on the channels for the given event types, returning
// a buffered channel that closes when ctx is done. A slow consumer drops
// events rather than blocking the pump.
func (r *RedisPubSub) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = channelName(et)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	return r.pump(ctx, pubsub), nil
}

// SubscribeAll listens on every event channel via pattern subscription.
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe all: %w", err)
	}

	return r.pump(ctx, pubsub), nil
}

func (r *RedisPubSub) pump(ctx context.Context, pubsub *redis.PubSub) <-chan *Event {
	out := make(chan *Event, 100)

	go func() {
		defer close(out)
		in := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("undecodable event on stream")
					continue
				}

				select {
				case out <- event:
				default:
					logger.Warn().Str("event_type", string(event.Type)).Msg("subscriber lagging, event dropped")
				}
			}
		}
	}()

	return out
}

// Close is a no-op: the Redis client is shared and owned by the caller.
func (r *RedisPubSub) Close() error {
	return nil
}

func channelName(t EventType) string {
	return channelPrefix + string(t)
}
