package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	joinCountedScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
if n > 0 then
  redis.call('SADD', KEYS[2], ARGV[1])
end
return n
`)

	leaveCountedScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('SREM', KEYS[2], ARGV[1])
end
return n
`)

	deleteIfEqualsScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// RedisStore implements CounterStore with one Redis round trip per call.
// Compound steps run as Lua scripts.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an initialized Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Client exposes the underlying client for pub/sub wiring.
func (s *RedisStore) Client() *redis.Client {
	return s.rdb
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis %s: %w", op, errors.Join(ErrUnavailable, err))
}

func (s *RedisStore) AddToSet(ctx context.Context, key, member string) (bool, error) {
	added, err := s.rdb.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, wrap("SADD", err)
	}
	return added == 1, nil
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, key, member string) error {
	return wrap("SREM", s.rdb.SRem(ctx, key, member).Err())
}

func (s *RedisStore) SetSize(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("SCARD", err)
	}
	return n, nil
}

func (s *RedisStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap("SISMEMBER", err)
	}
	return ok, nil
}

func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap("SMEMBERS", err)
	}
	return members, nil
}

func (s *RedisStore) IncrementHash(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, wrap("HINCRBY", err)
	}
	return n, nil
}

func (s *RedisStore) DeleteHashField(ctx context.Context, key, field string) error {
	return wrap("HDEL", s.rdb.HDel(ctx, key, field).Err())
}

func (s *RedisStore) JoinCounted(ctx context.Context, countsKey, activeKey, member string) (int64, error) {
	n, err := joinCountedScript.Run(ctx, s.rdb, []string{countsKey, activeKey}, member).Int64()
	if err != nil {
		return 0, wrap("EVALSHA join", err)
	}
	return n, nil
}

func (s *RedisStore) LeaveCounted(ctx context.Context, countsKey, activeKey, member string) (int64, error) {
	n, err := leaveCountedScript.Run(ctx, s.rdb, []string{countsKey, activeKey}, member).Int64()
	if err != nil {
		return 0, wrap("EVALSHA leave", err)
	}
	return n, nil
}

func (s *RedisStore) SetHashFields(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return wrap("HSET", s.rdb.HSet(ctx, key, values).Err())
}

func (s *RedisStore) HashValues(ctx context.Context, key string, fields ...string) ([]string, error) {
	raw, err := s.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, wrap("HMGET", err)
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			out[i] = str
		}
	}
	return out, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrap("INCRBY", err)
	}
	return n, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("GET", err)
	}
	return val, true, nil
}

func (s *RedisStore) GetInt(ctx context.Context, key string) (int64, error) {
	val, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return parseInt(val), nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("SET", s.rdb.Set(ctx, key, value, ttl).Err())
}

// GetAndReset swaps the stored value for zero and returns what was there.
func (s *RedisStore) GetAndReset(ctx context.Context, key string) (int64, error) {
	prev, err := s.rdb.GetSet(ctx, key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("GETSET", err)
	}
	return parseInt(prev), nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrap("SETNX", err)
	}
	return ok, nil
}

func (s *RedisStore) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfEqualsScript.Run(ctx, s.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, wrap("EVALSHA delete-if-equals", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("EXPIRE", s.rdb.Expire(ctx, key, ttl).Err())
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("DEL", s.rdb.Del(ctx, keys...).Err())
}

func (s *RedisStore) PushList(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return wrap("RPUSH", s.rdb.RPush(ctx, key, args...).Err())
}

func (s *RedisStore) RangeList(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("LRANGE", err)
	}
	return vals, nil
}

func (s *RedisStore) TrimList(ctx context.Context, key string, start, stop int64) error {
	return wrap("LTRIM", s.rdb.LTrim(ctx, key, start, stop).Err())
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return wrap("PUBLISH", s.rdb.Publish(ctx, channel, payload).Err())
}
