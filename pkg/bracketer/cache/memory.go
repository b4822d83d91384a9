package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process cache for tests and single-process hosts.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]memoryEntry
	now     func() time.Time
	closed  bool
	closeCh chan struct{}
	done    chan struct{}
}

// memoryEntry holds a value with its expiry. Zero expiresAt never expires.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for expiry. Intended for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory store.
// A positive sweepInterval starts a janitor goroutine that removes expired
// entries; it is stopped by Close.
func NewMemoryStore(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		data:    make(map[string]memoryEntry),
		now:     time.Now,
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if sweepInterval > 0 {
		go m.sweepLoop(sweepInterval)
	} else {
		close(m.done)
	}
	return m
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(_ context.Context, key string, init func() ([]byte, error)) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, unavailable("get_or_create", key, ErrStoreClosed)
	}

	if v, ok := m.load(key); ok {
		return v, nil
	}

	v, err := init()
	if err != nil {
		return nil, err
	}
	m.store(key, v, 0)
	return clone(v), nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("set", key, ErrStoreClosed)
	}
	m.store(key, value, ttl)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("delete", firstKey(keys), ErrStoreClosed)
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Update implements Store. The whole store is locked for the duration of fn.
func (m *MemoryStore) Update(_ context.Context, keys []string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return unavailable("update", firstKey(keys), ErrStoreClosed)
	}

	current := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.load(k); ok {
			current[k] = v
		}
	}

	mut, err := fn(current)
	if err != nil {
		return err
	}

	for _, k := range mut.Delete {
		delete(m.data, k)
	}
	for k, v := range mut.Set {
		m.store(k, v, mut.TTL)
	}
	return nil
}

// Sweep implements Sweeper.
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, unavailable("sweep", "", ErrStoreClosed)
	}

	now := m.now()
	removed := 0
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.data = nil
	close(m.closeCh)
	m.mu.Unlock()

	<-m.done
	return nil
}

// Len returns the number of live (unexpired) entries.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, e := range m.data {
		if !e.expired(now) {
			count++
		}
	}
	return count
}

// load returns a copy of the live value at key. Caller holds mu.
func (m *MemoryStore) load(key string) ([]byte, bool) {
	e, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return nil, false
	}
	return clone(e.value), true
}

// store saves a copy of value. Caller holds mu.
func (m *MemoryStore) store(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
}

func (m *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Sweep(context.Background())
		case <-m.closeCh:
			return
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
