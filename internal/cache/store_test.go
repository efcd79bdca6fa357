package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetOrLoadSingleFlight(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	release := make(chan struct{})
	store := cache.NewStore("test", func(_ context.Context, key int) (string, error) {
		calls.Add(1)
		<-release

		return "value", nil
	}, nil)

	const callers = 16

	var (
		wg      sync.WaitGroup
		results = make([]string, callers)
	)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			value, err := store.GetOrLoad(t.Context(), 1)
			assert.NoError(t, err)

			results[i] = value
		}()
	}

	// Give every caller a chance to join the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, value := range results {
		assert.Equal(t, "value", value)
	}
}

func TestStoreErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	failing := true
	store := cache.NewStore("test", func(_ context.Context, key int) (string, error) {
		if failing {
			return "", errors.New("upstream unavailable")
		}

		return "loaded", nil
	}, nil)

	_, err := store.GetOrLoad(t.Context(), 7)
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())

	failing = false

	value, err := store.GetOrLoad(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, "loaded", value)
}

func TestStoreGetManyUsesOneBatch(t *testing.T) {
	t.Parallel()

	var batches [][]int

	store := cache.NewStore("test", nil, func(_ context.Context, keys []int) (map[int]string, error) {
		batches = append(batches, keys)

		result := make(map[int]string)
		for _, key := range keys {
			if key != 4 {
				result[key] = "loaded"
			}
		}

		return result, nil
	})
	store.Insert(1, "cached")

	values, err := store.GetMany(t.Context(), []int{1, 2, 3, 2, 4})
	require.NoError(t, err)

	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []int{2, 3, 4}, batches[0])
	assert.Equal(t, []string{"cached", "loaded", "loaded", "loaded"}, values)
}

func TestStoreLoadOverlappingRemoveIsNotCached(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	var calls atomic.Int32

	store := cache.NewStore("test", func(_ context.Context, key int) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}

		return "stale", nil
	}, nil)

	done := make(chan string)

	go func() {
		value, err := store.GetOrLoad(t.Context(), 5)
		assert.NoError(t, err)

		done <- value
	}()

	<-started
	store.Remove(5)
	close(release)

	assert.Equal(t, "stale", <-done)

	_, ok := store.Get(5)
	assert.False(t, ok)

	// Later loads are cached again
	_, err := store.GetOrLoad(t.Context(), 5)
	require.NoError(t, err)

	_, ok = store.Get(5)
	assert.True(t, ok)
}

func TestStoreGetManyOverlappingRemoveIsNotCached(t *testing.T) {
	t.Parallel()

	var store *cache.Store[int, string]

	store = cache.NewStore("test", nil, func(_ context.Context, keys []int) (map[int]string, error) {
		// An eviction lands while the batch is in flight
		store.Remove(2)

		result := make(map[int]string, len(keys))
		for _, key := range keys {
			result[key] = "loaded"
		}

		return result, nil
	})

	values, err := store.GetMany(t.Context(), []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"loaded", "loaded"}, values)
	assert.Equal(t, 0, store.Len())
}

func TestStoreGetOrLoadWithBatchLoaderMissing(t *testing.T) {
	t.Parallel()

	store := cache.NewStore("test", nil, func(context.Context, []int) (map[int]string, error) {
		return map[int]string{}, nil
	})

	_, err := store.GetOrLoad(t.Context(), 3)
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreWithoutLoader(t *testing.T) {
	t.Parallel()

	store := cache.NewStore[int, string]("test", nil, nil)

	_, err := store.GetOrLoad(t.Context(), 1)
	require.ErrorIs(t, err, cache.ErrNoLoader)

	store.Insert(1, "a")
	store.Insert(1, "b")

	value, ok := store.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "b", value)

	store.Remove(1)

	_, ok = store.Get(1)
	assert.False(t, ok)
}

func TestTTLStore(t *testing.T) {
	t.Parallel()

	ttl := 100 * time.Millisecond
	store := cache.NewTTLStore[string, int](ttl)
	t.Cleanup(store.Stop)

	t.Run("set and get", func(t *testing.T) {
		store.Set("a", 1)

		value, ok := store.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, value)
	})

	t.Run("expiration", func(t *testing.T) {
		store.Set("b", 2)
		time.Sleep(ttl + 50*time.Millisecond)

		_, ok := store.Get("b")
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		store.Set("c", 3)
		store.Delete("c")

		_, ok := store.Get("c")
		assert.False(t, ok)
	})

	t.Run("get or load caches the value", func(t *testing.T) {
		calls := 0
		load := func(context.Context) (int, error) {
			calls++
			return 42, nil
		}

		for range 3 {
			value, err := store.GetOrLoad(t.Context(), "d", load)
			require.NoError(t, err)
			assert.Equal(t, 42, value)
		}

		assert.Equal(t, 1, calls)
	})
}
