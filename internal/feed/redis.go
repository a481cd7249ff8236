package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker distributes events across API instances over Redis Pub/Sub.
type RedisBroker struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisBroker(client *redis.Client, prefix string, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "feed").Logger(),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, b.prefix+channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, match Match) (<-chan Event, error) {
	ps := b.client.Subscribe(ctx, b.prefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed event")
					continue
				}
				if !match.accepts(ev) {
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	return out, nil
}
