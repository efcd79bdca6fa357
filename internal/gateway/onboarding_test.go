package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnboardingTimerExpiry(t *testing.T) {
	t.Parallel()

	start := time.Now()
	now := start

	timer := NewOnboardingTimer(func(context.Context, types.MemberKey) {})
	timer.now = func() time.Time { return now }

	key := types.MemberKey{GuildID: 1, UserID: 5}
	timer.Add(key)

	now = start.Add(OnboardingThreshold - time.Second)
	assert.Empty(t, timer.expire())
	assert.Equal(t, 1, timer.Len())

	now = start.Add(OnboardingThreshold)
	assert.Equal(t, []types.MemberKey{key}, timer.expire())
	assert.Zero(t, timer.Len())
}

func TestOnboardingTimerRun(t *testing.T) {
	t.Parallel()

	completed := make(chan types.MemberKey, 1)

	timer := NewOnboardingTimer(func(_ context.Context, key types.MemberKey) {
		completed <- key
	})
	timer.interval = 10 * time.Millisecond
	timer.threshold = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		timer.Run(ctx)
		close(done)
	}()

	key := types.MemberKey{GuildID: 1, UserID: 5}
	timer.Add(key)

	select {
	case got := <-completed:
		assert.Equal(t, key, got)
	case <-time.After(2 * time.Second):
		require.Fail(t, "onboarding was not completed")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "timer did not stop")
	}
}
