// Package notifications fans viewer-count changes out to WebSocket clients
// on every instance.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"livecount/internal/keyspace"
	"livecount/internal/middleware"
	"livecount/internal/observability"
	"livecount/internal/store"

	"github.com/redis/go-redis/v9"
)

// ViewerCount is the payload published whenever a broadcast's active count changes.
type ViewerCount struct {
	BroadcastID int64 `json:"broadcastId"`
	Count       int64 `json:"count"`
}

// Notifier publishes viewer counts through the counter store and subscribes
// to them again on each instance.
type Notifier struct {
	store store.CounterStore
	rdb   *redis.Client
	mem   *store.MemoryStore
}

// NewNotifier creates a Notifier. Subscriptions use the Redis client behind a
// RedisStore, or the in-process fan-out of a MemoryStore.
func NewNotifier(s store.CounterStore) *Notifier {
	n := &Notifier{store: s}
	switch v := s.(type) {
	case *store.RedisStore:
		n.rdb = v.Client()
	case *store.MemoryStore:
		n.mem = v
	}
	return n
}

// PublishViewerCount sends {broadcastId, count} on the broadcast's viewer channel.
func (n *Notifier) PublishViewerCount(ctx context.Context, broadcastID, count int64) error {
	if n.store == nil {
		return nil
	}
	payload, err := json.Marshal(ViewerCount{BroadcastID: broadcastID, Count: count})
	if err != nil {
		return fmt.Errorf("marshal viewer count: %w", err)
	}
	if err := n.store.Publish(ctx, keyspace.For(broadcastID).ViewerChannel(), string(payload)); err != nil {
		return err
	}
	observability.ViewerCountPublishes.WithLabelValues("published").Inc()
	return nil
}

// StartViewerCountSubscriber subscribes to every broadcast's viewer channel and
// calls onMessage for each message until ctx is cancelled.
func (n *Notifier) StartViewerCountSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	deliver := func(channel, payload string) {
		defer func() {
			if r := recover(); r != nil {
				middleware.Logger.ErrorContext(ctx, "panic in viewer count subscriber",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		onMessage(channel, payload)
	}

	switch {
	case n.rdb != nil:
		sub := n.rdb.PSubscribe(ctx, keyspace.ViewerChannelPattern)
		// Wait for the subscription so no publish between here and the loop is missed.
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return fmt.Errorf("subscribe %s: %w", keyspace.ViewerChannelPattern, err)
		}
		ch := sub.Channel()
		go func() {
			defer func() { _ = sub.Close() }()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					deliver(msg.Channel, msg.Payload)
				}
			}
		}()
	case n.mem != nil:
		unsubscribe := n.mem.Subscribe(func(channel, payload string) {
			if _, ok := keyspace.ParseViewerChannel(channel); ok {
				deliver(channel, payload)
			}
		})
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	}
	return nil
}
