package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultMemberRequestTimeout bounds the wait for a member chunk reply.
const DefaultMemberRequestTimeout = 10 * time.Second

// ErrMemberRequestTimeout is returned when no chunk answered a request in time.
var ErrMemberRequestTimeout = errors.New("member request timed out")

// MemberRequests correlates member requests with the chunk replies carrying
// their nonce.
type MemberRequests struct {
	gateway platform.Gateway
	cache   *cache.Cache
	timeout time.Duration

	nonce   atomic.Uint64
	waiters *xsync.MapOf[string, chan struct{}]
	pending atomic.Int64
}

// NewMemberRequests creates an empty request table.
func NewMemberRequests(gateway platform.Gateway, c *cache.Cache, timeout time.Duration) *MemberRequests {
	if timeout <= 0 {
		timeout = DefaultMemberRequestTimeout
	}

	return &MemberRequests{
		gateway: gateway,
		cache:   c,
		timeout: timeout,
		waiters: xsync.NewMapOf[string, chan struct{}](),
	}
}

// Members returns the requested members, asking the gateway for those that
// are not cached. Members the gateway does not know are left out.
func (r *MemberRequests) Members(ctx context.Context, guildID uint64, userIDs []uint64) ([]*types.Member, error) {
	missing := slices.DeleteFunc(slices.Clone(userIDs), func(id uint64) bool {
		_, ok := r.cache.Members.Get(types.MemberKey{GuildID: guildID, UserID: id})
		return ok
	})

	if len(missing) > 0 {
		if err := r.request(ctx, guildID, missing); err != nil {
			return nil, err
		}
	}

	members := make([]*types.Member, 0, len(userIDs))
	for _, id := range userIDs {
		if member, ok := r.cache.Members.Get(types.MemberKey{GuildID: guildID, UserID: id}); ok {
			members = append(members, member)
		}
	}

	return members, nil
}

func (r *MemberRequests) request(ctx context.Context, guildID uint64, userIDs []uint64) error {
	nonce := strconv.FormatUint(r.nonce.Add(1), 10)
	signal := make(chan struct{})

	r.waiters.Store(nonce, signal)
	r.pending.Add(1)

	if err := r.gateway.RequestMembers(ctx, guildID, userIDs, nonce); err != nil {
		r.abandon(nonce)
		return fmt.Errorf("failed to request members: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-signal:
		return nil
	case <-timer.C:
		r.abandon(nonce)
		return ErrMemberRequestTimeout
	case <-ctx.Done():
		r.abandon(nonce)
		return ctx.Err()
	}
}

// Complete releases the waiter of a nonce. Returns false for unknown nonces.
func (r *MemberRequests) Complete(nonce string) bool {
	signal, ok := r.waiters.LoadAndDelete(nonce)
	if !ok {
		return false
	}

	r.pending.Add(-1)
	close(signal)

	return true
}

// Pending returns the number of requests waiting for a reply.
func (r *MemberRequests) Pending() int {
	return int(r.pending.Load())
}

func (r *MemberRequests) abandon(nonce string) {
	if _, ok := r.waiters.LoadAndDelete(nonce); ok {
		r.pending.Add(-1)
	}
}
