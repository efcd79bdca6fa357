package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoLoader is returned when a missing entry cannot be loaded.
	ErrNoLoader = errors.New("cache has no loader")
	// ErrNotFound is wrapped by loaders when the requested entry does not exist.
	ErrNotFound = errors.New("cache entry not found")
)

// Loader fetches a single missing value.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// BatchLoader fetches several missing values in one call. Keys absent from
// the returned map do not exist.
type BatchLoader[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Store is a concurrent read-through cache for one kind of model.
// At most one load per key is in flight at any time. A load that overlaps
// a Remove is returned to its callers but not cached.
type Store[K comparable, V any] struct {
	name      string
	entries   *xsync.MapOf[K, V]
	group     singleflight.Group
	load      Loader[K, V]
	loadBatch BatchLoader[K, V]

	// evictions is bumped by every Remove.
	evictions atomic.Uint64
}

// NewStore creates a store. Either loader may be nil.
func NewStore[K comparable, V any](name string, load Loader[K, V], loadBatch BatchLoader[K, V]) *Store[K, V] {
	return &Store[K, V]{
		name:      name,
		entries:   xsync.NewMapOf[K, V](),
		load:      load,
		loadBatch: loadBatch,
	}
}

// Get returns the cached value without loading.
func (s *Store[K, V]) Get(key K) (V, bool) {
	return s.entries.Load(key)
}

// GetOrLoad returns the cached value, loading it on a miss.
// Load errors are returned and nothing is cached.
func (s *Store[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if value, ok := s.entries.Load(key); ok {
		return value, nil
	}

	if s.load == nil && s.loadBatch == nil {
		var zero V
		return zero, fmt.Errorf("%w: %s %v", ErrNoLoader, s.name, key)
	}

	result, err, _ := s.group.Do(fmt.Sprint(key), func() (any, error) {
		// Another caller may have finished loading while we waited
		if value, ok := s.entries.Load(key); ok {
			return value, nil
		}

		telemetry.CacheLoads.WithLabelValues(s.name).Inc()

		generation := s.evictions.Load()

		value, err := s.loadOne(ctx, key)
		if err != nil {
			return nil, err
		}

		if s.evictions.Load() != generation {
			return value, nil
		}

		// Values inserted while loading are newer than what we fetched
		actual, _ := s.entries.LoadOrStore(key, value)

		return actual, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	return result.(V), nil //nolint:forcetypeassert // only V is ever stored
}

// GetMany returns the cached values for keys, loading every missing key in
// a single batch call. Keys that do not exist are skipped. The result keeps
// the order of keys.
func (s *Store[K, V]) GetMany(ctx context.Context, keys []K) ([]V, error) {
	missing := make([]K, 0)
	seen := make(map[K]struct{}, len(keys))

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}

		if _, ok := s.entries.Load(key); !ok {
			missing = append(missing, key)
		}
	}

	var loaded map[K]V

	if len(missing) > 0 {
		var err error
		if loaded, err = s.loadMissing(ctx, missing); err != nil {
			return nil, err
		}
	}

	values := make([]V, 0, len(keys))
	for _, key := range keys {
		if value, ok := s.entries.Load(key); ok {
			values = append(values, value)
		} else if value, ok := loaded[key]; ok {
			values = append(values, value)
		}
	}

	return values, nil
}

// Insert stores a value, replacing any cached one.
func (s *Store[K, V]) Insert(key K, value V) {
	s.entries.Store(key, value)
}

// Remove evicts a value. Loads still in flight will not cache their result.
func (s *Store[K, V]) Remove(key K) {
	s.evictions.Add(1)
	s.entries.Delete(key)
}

// Range calls fn for every cached entry until fn returns false.
func (s *Store[K, V]) Range(fn func(key K, value V) bool) {
	s.entries.Range(fn)
}

// Len returns the number of cached entries.
func (s *Store[K, V]) Len() int {
	return s.entries.Size()
}

// loadOne loads a single key with whichever loader is available.
func (s *Store[K, V]) loadOne(ctx context.Context, key K) (V, error) {
	if s.load != nil {
		return s.load(ctx, key)
	}

	values, err := s.loadBatch(ctx, []K{key})
	if err != nil {
		var zero V
		return zero, err
	}

	value, ok := values[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %s %v", ErrNotFound, s.name, key)
	}

	return value, nil
}

// loadMissing fills the given keys, preferring one batch call, and returns
// what it loaded.
func (s *Store[K, V]) loadMissing(ctx context.Context, missing []K) (map[K]V, error) {
	if s.loadBatch == nil {
		loaded := make(map[K]V, len(missing))

		for _, key := range missing {
			value, err := s.GetOrLoad(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}

			if err != nil {
				return nil, err
			}

			loaded[key] = value
		}

		return loaded, nil
	}

	telemetry.CacheLoads.WithLabelValues(s.name).Inc()

	generation := s.evictions.Load()

	values, err := s.loadBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	if s.evictions.Load() != generation {
		return values, nil
	}

	for key, value := range values {
		s.entries.LoadOrStore(key, value)
	}

	return values, nil
}
