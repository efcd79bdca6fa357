package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
)

const (
	// OnboardingInterval is how often held members are checked.
	OnboardingInterval = 10 * time.Second
	// OnboardingThreshold is how long a member is held before onboarding
	// counts as completed. It must stay below the ten minute platform hold
	// by at least one interval.
	OnboardingThreshold = 9*time.Minute + 50*time.Second
)

// OnboardingTimer completes onboarding for members held by the guild's
// verification level once the hold has passed.
type OnboardingTimer struct {
	mu      sync.RWMutex
	entries map[types.MemberKey]time.Time

	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	complete  func(ctx context.Context, key types.MemberKey)
}

// NewOnboardingTimer creates a timer calling complete for expired entries.
func NewOnboardingTimer(complete func(ctx context.Context, key types.MemberKey)) *OnboardingTimer {
	return &OnboardingTimer{
		entries:   make(map[types.MemberKey]time.Time),
		interval:  OnboardingInterval,
		threshold: OnboardingThreshold,
		now:       time.Now,
		complete:  complete,
	}
}

// Add starts holding a member.
func (t *OnboardingTimer) Add(key types.MemberKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = t.now()
}

// Remove stops holding a member.
func (t *OnboardingTimer) Remove(key types.MemberKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
}

// Len returns the number of held members.
func (t *OnboardingTimer) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Run checks held members until ctx is cancelled.
func (t *OnboardingTimer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range t.expire() {
				t.complete(ctx, key)
			}
		}
	}
}

// expire removes and returns the entries past the threshold.
func (t *OnboardingTimer) expire() []types.MemberKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	var expired []types.MemberKey
	for key, added := range t.entries {
		if now.Sub(added) >= t.threshold {
			expired = append(expired, key)
			delete(t.entries, key)
		}
	}

	return expired
}
