package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
)

// TryLock sets key only when it is absent, expiring it after ttl.
// Returns false without error when another holder owns the key.
func TryLock(ctx context.Context, client rueidis.Client, key, owner string, ttl time.Duration) (bool, error) {
	err := client.Do(ctx, client.B().Set().Key(key).Value(owner).Nx().ExSeconds(int64(ttl.Seconds())).Build()).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return true, nil
}

// Unlock removes key.
func Unlock(ctx context.Context, client rueidis.Client, key string) error {
	if err := client.Do(ctx, client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	return nil
}
