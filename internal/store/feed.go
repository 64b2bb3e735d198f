package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultFeedChannel is the pub/sub channel used for document changes.
const DefaultFeedChannel = "procureflow.changes"

// RedisFeed broadcasts committed changes over Redis pub/sub so every process
// sharing the database sees them.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisFeed constructs the feed.
func NewRedisFeed(client *redis.Client, channel string, logger *slog.Logger) *RedisFeed {
	if channel == "" {
		channel = DefaultFeedChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFeed{client: client, channel: channel, logger: logger}
}

// Publish sends every change as a JSON message.
func (f *RedisFeed) Publish(ctx context.Context, changes []Change) error {
	for _, change := range changes {
		payload, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("store: encode change: %w", err)
		}
		if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
			return fmt.Errorf("store: publish change: %w", err)
		}
	}
	return nil
}

// Subscribe listens for changes under prefix until the returned function is
// called or ctx ends.
func (f *RedisFeed) Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("store: subscribe: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					f.logger.Warn("decode store change", slog.Any("error", err))
					continue
				}
				if strings.HasPrefix(change.Path, prefix) {
					fn(change)
				}
			}
		}
	}()
	return cancel, nil
}
