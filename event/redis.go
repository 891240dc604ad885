package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix is prepended to topics to form Redis channel names.
const DefaultChannelPrefix = "tiermem:events:"

// RedisSink publishes each event on the channel <prefix><topic>.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink creates a RedisSink. An empty prefix uses DefaultChannelPrefix.
func NewRedisSink(client redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Channel returns the channel an event topic is published on.
func (s *RedisSink) Channel(topic string) string {
	return s.prefix + topic
}

// Publish sends payload to the topic's channel.
func (s *RedisSink) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := s.client.Publish(ctx, s.Channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", s.Channel(topic), err)
	}
	return nil
}

// Subscribe listens on the channels of the given topics, or of every engine
// topic when none are given. The returned channel yields decoded envelopes
// until ctx is done.
func (s *RedisSink) Subscribe(ctx context.Context, logger *slog.Logger, topics ...string) (<-chan Envelope, error) {
	if len(topics) == 0 {
		topics = Topics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = s.Channel(t)
	}

	pubsub := s.client.Subscribe(ctx, channels...)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	out := make(chan Envelope)

	go func() {
		defer close(out)
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

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.Warn("skipping malformed event", "error", err, "channel", msg.Channel)
					continue
				}

				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
