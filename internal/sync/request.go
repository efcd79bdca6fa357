package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Request identifies a member to sync.
type Request struct {
	GuildID uint64
	UserID  uint64

	// ForcedBy is the member who requested the sync for someone else.
	ForcedBy *uint64
	// AllowUnregistered syncs members without a registered user instead of
	// failing with types.ErrUserNotFound.
	AllowUnregistered bool
}

// SyncAndLog resolves the member, syncs it and posts a profile log when
// anything changed.
func (s *Service) SyncAndLog(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "sync.member", trace.WithAttributes(
		attribute.Int64("guild_id", int64(req.GuildID)),
		attribute.Int64("user_id", int64(req.UserID)),
	))
	start := time.Now()

	defer func() {
		telemetry.SyncDuration.Observe(time.Since(start).Seconds())
		telemetry.SyncOutcomes.WithLabelValues(outcome(result, err)).Inc()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	server, err := s.cache.Server(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}

	guild, err := s.cache.Guilds.GetOrLoad(ctx, req.GuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild: %w", err)
	}

	member, err := s.cache.Member(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	user, err := s.cache.User(ctx, req.GuildID, req.UserID)
	switch {
	case errors.Is(err, types.ErrUserNotFound) && req.AllowUnregistered:
		user = nil
	case err != nil:
		return nil, err
	}

	return s.syncResolved(ctx, user, member, Target{Server: server, Guild: guild}, req.ForcedBy)
}

// syncResolved runs a sync for already resolved entities and logs the result.
func (s *Service) syncResolved(
	ctx context.Context, user *types.User, member *types.Member, target Target, forcedBy *uint64,
) (*Result, error) {
	actions, err := s.loadActions(ctx, target.Server)
	if err != nil {
		return nil, err
	}

	var users []*types.User
	if user != nil {
		users = append(users, user)
	}

	metadata, err := s.connectionMetadata(ctx, users, actions)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection metadata: %w", err)
	}

	result, err := s.syncMember(ctx, user, member, target, metadata, actions)
	if err != nil {
		return nil, err
	}

	if result.ProfileChanged && s.logs != nil {
		s.logs.Log(&serverlog.ServerProfileSync{
			Member:              *member,
			ForcedBy:            forcedBy,
			RoleChanges:         result.RoleChanges,
			NicknameChange:      result.NicknameChange,
			RelevantConnections: result.RelevantConnections,
		})
	}

	s.logger.Debug("Synced member",
		zap.Uint64("guild_id", member.GuildID),
		zap.Uint64("user_id", member.UserID),
		zap.Int("role_changes", len(result.RoleChanges)),
		zap.Stringer("status", result.MemberStatus))

	return result, nil
}

func outcome(result *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.MemberStatus != types.MemberStatusOK:
		return result.MemberStatus.String()
	case result.ProfileChanged:
		return "changed"
	default:
		return "unchanged"
	}
}
