package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/redis"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// memberChunkSize is the most members requested from the gateway at once.
	memberChunkSize = 100
	// progressEvery is how many members are synced between progress edits.
	progressEvery = 25

	forceSyncAllLockTTL = time.Hour
)

// forceSyncAllStats tallies a forcesyncall run.
type forceSyncAllStats struct {
	total   int
	synced  int
	changed int
	failed  int
}

func (s forceSyncAllStats) String() string {
	return fmt.Sprintf("Synced %d/%d members: %d updated, %d failed.", s.synced, s.total, s.changed, s.failed)
}

func (h *Handler) handleForceSyncAll(ctx context.Context, interaction *types.Interaction) error {
	_, err := h.cache.Server(ctx, interaction.GuildID)
	if errors.Is(err, types.ErrServerNotFound) {
		return h.platform.RespondInteraction(ctx, interaction, "mellow is not set up in this server.", true)
	}

	if err != nil {
		return err
	}

	lockKey := fmt.Sprintf("forcesyncall:%d", interaction.GuildID)

	if h.locks != nil {
		acquired, err := redis.TryLock(ctx, h.locks, lockKey, interaction.Token, forceSyncAllLockTTL)
		if err != nil {
			return err
		}

		if !acquired {
			return h.platform.RespondInteraction(ctx, interaction, "A server-wide sync is already running.", true)
		}
	}

	if err := h.platform.DeferInteraction(ctx, interaction, false); err != nil {
		h.unlock(lockKey)
		return fmt.Errorf("failed to defer forcesyncall: %w", err)
	}

	h.spawn(func(ctx context.Context) {
		defer h.unlock(lockKey)

		stats, err := h.forceSyncAll(ctx, interaction)
		if err != nil {
			h.logger.Error("Server-wide sync failed",
				zap.Error(err),
				zap.Uint64("guild_id", interaction.GuildID))
			h.editResponse(ctx, interaction.Token, "The server-wide sync failed. "+stats.String())

			return
		}

		h.editResponse(ctx, interaction.Token, stats.String())
	})

	return nil
}

// forceSyncAll syncs every registered member of the guild, allowing at most
// one profile change per mutation interval.
func (h *Handler) forceSyncAll(ctx context.Context, interaction *types.Interaction) (forceSyncAllStats, error) {
	var stats forceSyncAllStats

	userIDs, err := h.servers.GetRegisteredMembers(ctx, interaction.GuildID)
	if err != nil {
		return stats, err
	}

	members, err := h.fetchMembers(ctx, interaction.GuildID, userIDs)
	if err != nil {
		return stats, err
	}

	stats.total = len(members)
	h.editResponse(ctx, interaction.Token, fmt.Sprintf("Syncing %d members...", stats.total))

	var forcedBy *uint64
	if interaction.Member != nil {
		forcedBy = &interaction.Member.UserID
	}

	limiter := rate.NewLimiter(rate.Every(h.mutationInterval), 1)
	limiter.Allow()

	for i, member := range members {
		result, err := h.syncer.SyncAndLog(ctx, memberSync.Request{
			GuildID:  interaction.GuildID,
			UserID:   member.UserID,
			ForcedBy: forcedBy,
		})

		switch {
		case err != nil:
			stats.failed++
			h.logger.Warn("Failed to sync member",
				zap.Error(err),
				zap.Uint64("guild_id", interaction.GuildID),
				zap.Uint64("user_id", member.UserID))
		case result.ProfileChanged:
			stats.synced++
			stats.changed++

			if err := limiter.Wait(ctx); err != nil {
				return stats, err
			}
		default:
			stats.synced++
		}

		if (i+1)%progressEvery == 0 && i+1 < len(members) {
			h.editResponse(ctx, interaction.Token, fmt.Sprintf("Syncing members... %d/%d", i+1, stats.total))
		}
	}

	return stats, nil
}

// fetchMembers loads members in gateway sized chunks.
func (h *Handler) fetchMembers(ctx context.Context, guildID uint64, userIDs []uint64) ([]*types.Member, error) {
	p := pool.NewWithResults[[]*types.Member]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(4)

	for chunk := range slices.Chunk(userIDs, memberChunkSize) {
		p.Go(func(ctx context.Context) ([]*types.Member, error) {
			return h.members.Members(ctx, guildID, chunk)
		})
	}

	chunks, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}

	return slices.Concat(chunks...), nil
}

func (h *Handler) unlock(key string) {
	if h.locks == nil {
		return
	}

	if err := redis.Unlock(context.Background(), h.locks, key); err != nil {
		h.logger.Warn("Failed to release lock", zap.Error(err), zap.String("key", key))
	}
}
