package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	r "gopkg.in/redis.v5"
)

const channelPrefix = "chat-changes:"

// Redis fans events out through Redis pub/sub so every server instance
// sees changes made by the others.
type Redis struct {
	client *r.Client
	logger *slog.Logger
}

// NewRedis connects to the Redis server at url.
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := r.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := r.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, logger: logger}, nil
}

func channelFor(userID string) string {
	return channelPrefix + userID
}

// Publish sends event on the user's channel.
func (b *Redis) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(channelFor(event.UserID), string(payload)).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe listens on the user's channel until ctx is done or Close is called.
func (b *Redis) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	pubsub, err := b.client.Subscribe(channelFor(userID))
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := make(chan Event, subscriberBuffer)
	ctx, cancel := context.WithCancel(ctx)

	// Cancelling closes the pubsub, which unblocks ReceiveMessage.
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	go func() {
		defer close(ch)
		defer cancel()
		for {
			msg, err := pubsub.ReceiveMessage()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("[NOTIFY] Redis subscription ended", "user_id", userID, "error", err)
				}
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("[NOTIFY] Dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case ch <- event:
			default:
			}
		}
	}()

	return &Subscription{C: ch, cancel: cancel}, nil
}

// Close closes the Redis client.
func (b *Redis) Close() error {
	return b.client.Close()
}
