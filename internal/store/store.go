// Package store provides the shared atomic counter store used by every process.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrUnavailable is returned when the shared store cannot be reached.
var ErrUnavailable = errors.New("counter store unavailable")

// CounterStore is the set of atomic primitives all cross-process state goes through.
// Numeric reads of absent keys yield zero, never an error.
type CounterStore interface {
	AddToSet(ctx context.Context, key, member string) (bool, error)
	RemoveFromSet(ctx context.Context, key, member string) error
	SetSize(ctx context.Context, key string) (int64, error)
	IsMember(ctx context.Context, key, member string) (bool, error)
	Members(ctx context.Context, key string) ([]string, error)

	IncrementHash(ctx context.Context, key, field string, delta int64) (int64, error)
	DeleteHashField(ctx context.Context, key, field string) error
	SetHashFields(ctx context.Context, key string, values map[string]string) error
	HashValues(ctx context.Context, key string, fields ...string) ([]string, error)

	// JoinCounted adds one to member's count in countsKey and, while the count is
	// positive, keeps member in activeKey. LeaveCounted takes one away and, once
	// the count reaches zero, removes both the field and the membership. Each is
	// a single atomic step, so concurrent joins and leaves never strand a member.
	JoinCounted(ctx context.Context, countsKey, activeKey, member string) (int64, error)
	LeaveCounted(ctx context.Context, countsKey, activeKey, member string) (int64, error)

	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	GetInt(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	GetAndReset(ctx context.Context, key string) (int64, error)
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DeleteIfEquals removes key only while it still holds value.
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	PushList(ctx context.Context, key string, values ...string) error
	RangeList(ctx context.Context, key string, start, stop int64) ([]string, error)
	TrimList(ctx context.Context, key string, start, stop int64) error

	Publish(ctx context.Context, channel, payload string) error
}

// parseInt treats unparsable stored values as zero.
func parseInt(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// AcquireLock takes a best-effort distributed lock for ttl on behalf of owner.
func AcquireLock(ctx context.Context, s CounterStore, key, owner string, ttl time.Duration) (bool, error) {
	return s.SetIfAbsent(ctx, key, owner, ttl)
}

// ReleaseLock drops a lock taken by owner. It reports false when the lock had
// already expired or been taken by someone else, which is then left alone.
func ReleaseLock(ctx context.Context, s CounterStore, key, owner string) (bool, error) {
	return s.DeleteIfEquals(ctx, key, owner)
}
