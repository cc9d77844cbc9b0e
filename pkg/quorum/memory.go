package quorum

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-process Counter implementation guarded by a mutex.
// It serves single-host deployments and tests; independent agents on
// separate hosts need a shared backend such as RedisCounter.
type MemoryCounter struct {
	mu      sync.Mutex
	values  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryCounter creates an empty in-memory counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		values:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// expired reports whether the key's TTL has lapsed. Caller holds the lock.
func (m *MemoryCounter) expired(key string) bool {
	deadline, ok := m.expires[key]
	return ok && m.now().After(deadline)
}

// AddIfAbsent implements Counter.
func (m *MemoryCounter) AddIfAbsent(_ context.Context, key string, initial int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[key]; ok && !m.expired(key) {
		return nil
	}
	m.values[key] = initial
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(_ context.Context, key string) (int64, error) {
	return m.add(key, 1), nil
}

// Decr implements Counter.
func (m *MemoryCounter) Decr(_ context.Context, key string) (int64, error) {
	return m.add(key, -1), nil
}

func (m *MemoryCounter) add(key string, delta int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(key) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	m.values[key] += delta
	return m.values[key]
}

// Get implements Counter.
func (m *MemoryCounter) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(key) {
		delete(m.values, key)
		delete(m.expires, key)
		return 0, false, nil
	}
	value, ok := m.values[key]
	return value, ok, nil
}

// Delete implements Counter.
func (m *MemoryCounter) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.expires, key)
	}
	return nil
}
