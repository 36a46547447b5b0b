package identity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const invalidateChannel = "authz.invalidate"

// Invalidator is the surface mutating services use to discard cached
// authorization state. Invalidation happens before the mutating handler
// returns success, so a caller that observed the mutation never observes
// the pre-mutation cache.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
	InvalidateUser(ctx context.Context, userID int64)
}

type invalidateMessage struct {
	Scope  string `json:"scope"`
	UserID int64  `json:"user_id,omitempty"`
	Sender string `json:"sender,omitempty"`
}

// Broadcaster applies invalidations to the local cache and replays them to
// sibling processes over a Redis channel. With a nil client it degrades to
// local-only, which keeps single-process deployments and tests simple.
type Broadcaster struct {
	client *redis.Client
	cache  *Cache
	logger *slog.Logger
	sender string
}

// NewBroadcaster constructs a Broadcaster. The sender id filters out our
// own published messages on the subscription side.
func NewBroadcaster(client *redis.Client, cache *Cache, logger *slog.Logger, sender string) *Broadcaster {
	return &Broadcaster{client: client, cache: cache, logger: logger, sender: sender}
}

// InvalidateAll discards the whole local cache, then notifies siblings.
func (b *Broadcaster) InvalidateAll(ctx context.Context) {
	b.cache.InvalidateAll()
	b.publish(ctx, invalidateMessage{Scope: "all", Sender: b.sender})
}

// InvalidateUser discards the user's local entries, then notifies siblings.
func (b *Broadcaster) InvalidateUser(ctx context.Context, userID int64) {
	b.cache.InvalidateUser(userID)
	b.publish(ctx, invalidateMessage{Scope: "user", UserID: userID, Sender: b.sender})
}

func (b *Broadcaster) publish(ctx context.Context, msg invalidateMessage) {
	if b.client == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, invalidateChannel, payload).Err(); err != nil && b.logger != nil {
		b.logger.Warn("publish cache invalidation", slog.Any("error", err))
	}
}

// Listen subscribes to sibling invalidations and applies them to the local
// cache until the context is cancelled.
func (b *Broadcaster) Listen(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, invalidateChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var decoded invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
					continue
				}
				if decoded.Sender != "" && decoded.Sender == b.sender {
					continue
				}
				switch decoded.Scope {
				case "user":
					b.cache.InvalidateUser(decoded.UserID)
				default:
					b.cache.InvalidateAll()
				}
			}
		}
	}()
	return nil
}

var _ Invalidator = (*Broadcaster)(nil)
