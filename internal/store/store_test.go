package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns each CounterStore implementation under test.
func backends(t *testing.T) map[string]CounterStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]CounterStore{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb),
	}
}

func TestCounterStore_Sets(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			added, err := s.AddToSet(ctx, "set", "a")
			require.NoError(t, err)
			assert.True(t, added)

			added, err = s.AddToSet(ctx, "set", "a")
			require.NoError(t, err)
			assert.False(t, added)

			_, _ = s.AddToSet(ctx, "set", "b")
			size, err := s.SetSize(ctx, "set")
			require.NoError(t, err)
			assert.Equal(t, int64(2), size)

			ok, err := s.IsMember(ctx, "set", "b")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.RemoveFromSet(ctx, "set", "b"))
			members, err := s.Members(ctx, "set")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a"}, members)

			size, err = s.SetSize(ctx, "missing")
			require.NoError(t, err)
			assert.Zero(t, size)
		})
	}
}

func TestCounterStore_Hashes(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := s.IncrementHash(ctx, "h", "v1", 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = s.IncrementHash(ctx, "h", "v1", -2)
			require.NoError(t, err)
			assert.Equal(t, int64(-1), n)

			require.NoError(t, s.DeleteHashField(ctx, "h", "v1"))
			n, err = s.IncrementHash(ctx, "h", "v1", 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			require.NoError(t, s.SetHashFields(ctx, "cfg", map[string]string{"cameraId": "cam", "volume": "40"}))
			vals, err := s.HashValues(ctx, "cfg", "cameraId", "missing", "volume")
			require.NoError(t, err)
			assert.Equal(t, []string{"cam", "", "40"}, vals)
		})
	}
}

func TestCounterStore_CountersDefaultToZero(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, err := s.GetInt(ctx, "absent")
			require.NoError(t, err)
			assert.Zero(t, v)

			prev, err := s.GetAndReset(ctx, "absent")
			require.NoError(t, err)
			assert.Zero(t, prev)

			_, err = s.Increment(ctx, "c", 3)
			require.NoError(t, err)
			_, err = s.Increment(ctx, "c", -1)
			require.NoError(t, err)

			prev, err = s.GetAndReset(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, int64(2), prev)

			prev, err = s.GetAndReset(ctx, "c")
			require.NoError(t, err)
			assert.Zero(t, prev)

			require.NoError(t, s.Set(ctx, "garbage", "not-a-number", 0))
			v, err = s.GetInt(ctx, "garbage")
			require.NoError(t, err)
			assert.Zero(t, v)
		})
	}
}

func TestCounterStore_SetIfAbsentAndLocks(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := AcquireLock(ctx, s, "lock", "run-a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = AcquireLock(ctx, s, "lock", "run-b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			released, err := ReleaseLock(ctx, s, "lock", "run-b")
			require.NoError(t, err)
			assert.False(t, released, "only the owner may release")
			v, held, err := s.Get(ctx, "lock")
			require.NoError(t, err)
			assert.True(t, held)
			assert.Equal(t, "run-a", v)

			released, err = ReleaseLock(ctx, s, "lock", "run-a")
			require.NoError(t, err)
			assert.True(t, released)
			ok, err = AcquireLock(ctx, s, "lock", "run-b", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			released, err = ReleaseLock(ctx, s, "missing", "run-a")
			require.NoError(t, err)
			assert.False(t, released)
		})
	}
}

func TestCounterStore_JoinAndLeaveCounted(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := s.JoinCounted(ctx, "counts", "active", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			n, err = s.JoinCounted(ctx, "counts", "active", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			member, err := s.IsMember(ctx, "active", "v")
			require.NoError(t, err)
			assert.True(t, member)

			n, err = s.LeaveCounted(ctx, "counts", "active", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			member, err = s.IsMember(ctx, "active", "v")
			require.NoError(t, err)
			assert.True(t, member)

			n, err = s.LeaveCounted(ctx, "counts", "active", "v")
			require.NoError(t, err)
			assert.Zero(t, n)
			vals, err := s.HashValues(ctx, "counts", "v")
			require.NoError(t, err)
			assert.Equal(t, []string{""}, vals, "field removed at zero")
			member, err = s.IsMember(ctx, "active", "v")
			require.NoError(t, err)
			assert.False(t, member)

			// A stray leave never leaves a negative count behind.
			n, err = s.LeaveCounted(ctx, "counts", "active", "v")
			require.NoError(t, err)
			assert.Equal(t, int64(-1), n)
			vals, err = s.HashValues(ctx, "counts", "v")
			require.NoError(t, err)
			assert.Equal(t, []string{""}, vals)
		})
	}
}

func TestCounterStore_Lists(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.PushList(ctx, "l", "a", "b", "c", "d"))
			vals, err := s.RangeList(ctx, "l", 0, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, vals)

			require.NoError(t, s.TrimList(ctx, "l", 2, -1))
			vals, err = s.RangeList(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d"}, vals)

			require.NoError(t, s.TrimList(ctx, "l", 5, -1))
			vals, err = s.RangeList(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Empty(t, vals)
		})
	}
}

func TestCounterStore_DeleteAndExpire(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, _ = s.AddToSet(ctx, "a", "x")
			_, _ = s.Increment(ctx, "b", 1)
			require.NoError(t, s.Expire(ctx, "a", time.Hour))
			require.NoError(t, s.Delete(ctx, "a", "b"))

			size, err := s.SetSize(ctx, "a")
			require.NoError(t, err)
			assert.Zero(t, size)
			v, err := s.GetInt(ctx, "b")
			require.NoError(t, err)
			assert.Zero(t, v)
		})
	}
}

func TestMemoryStore_ExpiryEvictsKeys(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = s.AddToSet(ctx, "room", "v1")
	require.NoError(t, s.Expire(ctx, "room", time.Hour))
	assert.Equal(t, time.Hour, s.TTL("room"))

	now = now.Add(59 * time.Minute)
	assert.True(t, s.Exists("room"))

	now = now.Add(2 * time.Minute)
	assert.False(t, s.Exists("room"))
	size, _ := s.SetSize(ctx, "room")
	assert.Zero(t, size)
}

func TestMemoryStore_PublishFansOut(t *testing.T) {
	s := NewMemoryStore()
	var got []string
	cancel := s.Subscribe(func(channel, payload string) {
		got = append(got, channel+"="+payload)
	})

	require.NoError(t, s.Publish(context.Background(), "live:1:viewers", "3"))
	cancel()
	require.NoError(t, s.Publish(context.Background(), "live:1:viewers", "4"))

	assert.Equal(t, []string{"live:1:viewers=3"}, got)
}

func TestRedisStore_UnavailableWrapsSentinel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = rdb.Close() }()
	mr.Close()

	_, err = NewRedisStore(rdb).AddToSet(context.Background(), "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}
