package notifications

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"livecount/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilStoreIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishViewerCount(context.Background(), 1, 2))
	assert.NoError(t, n.StartViewerCountSubscriber(context.Background(), func(string, string) {}))
}

func TestNotifier_MemoryRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	n := NewNotifier(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	require.NoError(t, n.StartViewerCountSubscriber(ctx, func(channel, payload string) {
		got <- channel + " " + payload
	}))

	require.NoError(t, s.Publish(ctx, "unrelated", "x"))
	require.NoError(t, n.PublishViewerCount(ctx, 7, 3))

	select {
	case msg := <-got:
		assert.Equal(t, `live:7:viewers {"broadcastId":7,"count":3}`, msg)
	case <-time.After(testEventuallyTimeout):
		t.Fatal("viewer count not delivered")
	}
	assert.Empty(t, got)
}

func TestNotifier_RedisFansOutAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two hubs stand in for two instances sharing one Redis.
	publisher := NewNotifier(store.NewRedisStore(rdb))
	hubA, hubB := NewLiveHub(), NewLiveHub()
	require.NoError(t, hubA.StartWiring(ctx, NewNotifier(store.NewRedisStore(rdb))))
	require.NoError(t, hubB.StartWiring(ctx, NewNotifier(store.NewRedisStore(rdb))))

	a, err := hubA.Register("a", "alice", nil)
	require.NoError(t, err)
	hubA.Join(a, 100)
	b, err := hubB.Register("b", "bob", nil)
	require.NoError(t, err)
	hubB.Join(b, 100)

	require.NoError(t, publisher.PublishViewerCount(ctx, 100, 2))

	for _, c := range []*Client{a, b} {
		f := receive(t, c)
		var vc ViewerCount
		require.NoError(t, json.Unmarshal(f.Payload, &vc))
		assert.Equal(t, int64(2), vc.Count)
	}
}

func TestNotifier_SubscriberSurvivesPanic(t *testing.T) {
	s := store.NewMemoryStore()
	n := NewNotifier(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	require.NoError(t, n.StartViewerCountSubscriber(ctx, func(string, string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
	}))

	require.NoError(t, n.PublishViewerCount(ctx, 1, 1))
	require.NoError(t, n.PublishViewerCount(ctx, 1, 2))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifier_StopsOnCancel(t *testing.T) {
	s := store.NewMemoryStore()
	n := NewNotifier(s)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	require.NoError(t, n.StartViewerCountSubscriber(ctx, func(string, string) {
		atomic.AddInt32(&calls, 1)
	}))
	require.NoError(t, n.PublishViewerCount(ctx, 1, 1))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	cancel()
	assert.Eventually(t, func() bool {
		before := atomic.LoadInt32(&calls)
		_ = n.PublishViewerCount(context.Background(), 1, 1)
		return atomic.LoadInt32(&calls) == before
	}, testEventuallyTimeout, testPollInterval)
}
