package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]entry
	clock func() time.Time
}

// MemoryOption configures the cache.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMemory constructs an in-process cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data:  make(map[string]entry),
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value for key, or ErrMiss.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !item.expiresAt.IsZero() && m.clock().After(item.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrMiss
	}
	value := append([]byte(nil), item.value...)
	return value, nil
}

// Set stores the value for key with a TTL. A zero TTL keeps the entry until
// deleted.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	item := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.clock().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes the key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
