package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore for tests and single-instance
// development. Every method holds one mutex, so each call is atomic.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
	lists   map[string][]string
	expires map[string]time.Time

	subs   map[int]func(channel, payload string)
	nextID int

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		expires: make(map[string]time.Time),
		subs:    make(map[int]func(string, string)),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Subscribe registers fn for every published message and returns an unsubscribe func.
func (m *MemoryStore) Subscribe(fn func(channel, payload string)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// TTL reports the remaining expiry of key, or zero when none is set.
func (m *MemoryStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	at, ok := m.expires[key]
	if !ok {
		return 0
	}
	return at.Sub(m.now())
}

// Exists reports whether key currently holds any value.
func (m *MemoryStore) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	return m.exists(key)
}

func (m *MemoryStore) exists(key string) bool {
	if _, ok := m.strings[key]; ok {
		return true
	}
	if _, ok := m.sets[key]; ok {
		return true
	}
	if _, ok := m.hashes[key]; ok {
		return true
	}
	_, ok := m.lists[key]
	return ok
}

// evict drops key if its expiry has passed. Caller holds mu.
func (m *MemoryStore) evict(key string) {
	at, ok := m.expires[key]
	if !ok || m.now().Before(at) {
		return
	}
	m.drop(key)
}

func (m *MemoryStore) drop(key string) {
	delete(m.strings, key)
	delete(m.sets, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	delete(m.expires, key)
}

func (m *MemoryStore) AddToSet(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (m *MemoryStore) RemoveFromSet(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	if set, ok := m.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			m.drop(key)
		}
	}
	return nil
}

func (m *MemoryStore) SetSize(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	return int64(len(m.sets[key])), nil
}

func (m *MemoryStore) IsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *MemoryStore) Members(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) IncrementHash(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	n := parseInt(h[field]) + delta
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) JoinCounted(_ context.Context, countsKey, activeKey, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(countsKey)
	m.evict(activeKey)
	h, ok := m.hashes[countsKey]
	if !ok {
		h = make(map[string]string)
		m.hashes[countsKey] = h
	}
	n := parseInt(h[member]) + 1
	h[member] = strconv.FormatInt(n, 10)
	if n > 0 {
		set, ok := m.sets[activeKey]
		if !ok {
			set = make(map[string]struct{})
			m.sets[activeKey] = set
		}
		set[member] = struct{}{}
	}
	return n, nil
}

func (m *MemoryStore) LeaveCounted(_ context.Context, countsKey, activeKey, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(countsKey)
	m.evict(activeKey)
	h, ok := m.hashes[countsKey]
	if !ok {
		h = make(map[string]string)
		m.hashes[countsKey] = h
	}
	n := parseInt(h[member]) - 1
	if n > 0 {
		h[member] = strconv.FormatInt(n, 10)
		return n, nil
	}
	delete(h, member)
	if len(h) == 0 {
		m.drop(countsKey)
	}
	if set, ok := m.sets[activeKey]; ok {
		delete(set, member)
		if len(set) == 0 {
			m.drop(activeKey)
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteHashField(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	if h, ok := m.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			m.drop(key)
		}
	}
	return nil
}

func (m *MemoryStore) SetHashFields(_ context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for f, v := range values {
		h[f] = v
	}
	return nil
}

func (m *MemoryStore) HashValues(_ context.Context, key string, fields ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = m.hashes[key][f]
	}
	return out, nil
}

func (m *MemoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	n := parseInt(m.strings[key]) + delta
	m.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) GetInt(ctx context.Context, key string) (int64, error) {
	v, ok, _ := m.Get(ctx, key)
	if !ok {
		return 0, nil
	}
	return parseInt(v), nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(key)
	m.strings[key] = value
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	}
	return nil
}

func (m *MemoryStore) GetAndReset(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	prev, ok := m.strings[key]
	m.strings[key] = "0"
	// GETSET clears any expiry, like Redis.
	delete(m.expires, key)
	if !ok {
		return 0, nil
	}
	return parseInt(prev), nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	if m.exists(key) {
		return false, nil
	}
	m.strings[key] = value
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	}
	return true, nil
}

func (m *MemoryStore) DeleteIfEquals(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	if v, ok := m.strings[key]; !ok || v != value {
		return false, nil
	}
	m.drop(key)
	return true, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	if !m.exists(key) {
		return nil
	}
	if ttl <= 0 {
		m.drop(key)
		return nil
	}
	m.expires[key] = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.drop(key)
	}
	return nil
}

func (m *MemoryStore) PushList(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

// listBounds resolves Redis-style inclusive, possibly negative, indexes.
func listBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func (m *MemoryStore) RangeList(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	list := m.lists[key]
	lo, hi, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

func (m *MemoryStore) TrimList(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict(key)
	list := m.lists[key]
	lo, hi, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([]string(nil), list[lo:hi+1]...)
	return nil
}

func (m *MemoryStore) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := make([]func(string, string), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(channel, payload)
	}
	return nil
}
