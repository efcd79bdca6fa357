package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTLStore provides a thread-safe map with expiring entries.
type TTLStore[K comparable, V any] struct {
	mu      sync.RWMutex
	data    map[K]V
	expires map[K]time.Time
	ttl     time.Duration
	group   singleflight.Group
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewTTLStore creates a TTLStore whose entries live for ttl. A reaper
// removes expired entries until Stop is called.
func NewTTLStore[K comparable, V any](ttl time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		data:    make(map[K]V),
		expires: make(map[K]time.Time),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go s.reap()

	return s
}

// Get retrieves a value that has not expired yet.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	if !exists || s.now().After(s.expires[key]) {
		var zero V
		return zero, false
	}

	return value, true
}

// Set adds or updates a value and restarts its lifetime.
func (s *TTLStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	s.expires[key] = s.now().Add(s.ttl)
}

// Delete removes a key.
func (s *TTLStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	delete(s.expires, key)
}

// DeleteFunc removes every entry for which fn returns true.
func (s *TTLStore[K, V]) DeleteFunc(fn func(key K, value V) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range s.data {
		if fn(key, value) {
			delete(s.data, key)
			delete(s.expires, key)
		}
	}
}

// GetOrLoad returns the live value or loads it, coalescing concurrent loads
// of the same key. Errors are not cached.
func (s *TTLStore[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if value, ok := s.Get(key); ok {
		return value, nil
	}

	result, err, _ := s.group.Do(fmt.Sprint(key), func() (any, error) {
		if value, ok := s.Get(key); ok {
			return value, nil
		}

		value, err := load(ctx)
		if err != nil {
			return nil, err
		}

		s.Set(key, value)

		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	return result.(V), nil //nolint:forcetypeassert // only V is ever stored
}

// Stop terminates the reaper.
func (s *TTLStore[K, V]) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// reap periodically removes expired entries.
func (s *TTLStore[K, V]) reap() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *TTLStore[K, V]) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, expires := range s.expires {
		if now.After(expires) {
			delete(s.data, key)
			delete(s.expires, key)
		}
	}
}
