package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// Bus is the Redis pub/sub implementation of app.EventBus, used when
// more than one instance serves the same sessions. Events travel as
// JSON envelopes on a per-session channel; subscribers on any instance
// see the same stream.
type Bus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewBus(client *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{client: client, log: log}
}

func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelKey(event.SessionID), data).Err()
}

func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, channelKey(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Event, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping malformed event")
				continue
			}
			// Drop the oldest pending event rather than block; every
			// event carries the full slice so the newest always wins.
			select {
			case out <- event:
			default:
				select {
				case <-out:
				default:
				}
				out <- event
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel, nil
}

func channelKey(sessionID string) string {
	return "quiz:session:" + sessionID + ":events"
}
