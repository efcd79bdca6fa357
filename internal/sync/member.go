package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"go.uber.org/zap"
)

const (
	// NicknameRobloxUsername renders the member's game platform username.
	NicknameRobloxUsername = "{roblox_username}"
	// NicknameRobloxDisplayName renders the member's game platform display name.
	NicknameRobloxDisplayName = "{roblox_display_name}"

	syncReason = "Member profile sync"
)

// Target is the guild a member is synced in.
type Target struct {
	Server *types.Server
	Guild  *types.Guild
}

// Result describes what a sync run did to a member.
type Result struct {
	ServerID             uint64
	RoleChanges          []types.RoleChange
	NicknameChange       *types.NicknameChange
	MemberStatus         types.MemberStatus
	ProfileChanged       bool
	RelevantConnections  []*types.Connection
	IsMissingConnections bool
}

// SyncMember evaluates the server's actions for a member and applies the
// resulting changes. The user is nil when the member is not registered.
func (s *Service) SyncMember(
	ctx context.Context, user *types.User, member *types.Member, target Target, metadata *ConnectionMetadata,
) (*Result, error) {
	actions, err := s.loadActions(ctx, target.Server)
	if err != nil {
		return nil, err
	}

	return s.syncMember(ctx, user, member, target, metadata, actions)
}

func (s *Service) syncMember(
	ctx context.Context,
	user *types.User,
	member *types.Member,
	target Target,
	metadata *ConnectionMetadata,
	actions *actionSet,
) (*Result, error) {
	eval := newEvaluator(user, metadata, actions)
	roles := slices.Clone(member.RoleIDs)
	status := types.MemberStatusOK

	// Roles of the guild, loaded on the first assignment
	var known map[uint64]struct{}

actions:
	for _, action := range actions.ordered {
		met := eval.isMet(action)

		switch action.Kind {
		case enum.ActionKindAssignRoles:
			for _, roleID := range action.Roles() {
				present := slices.Contains(roles, roleID)

				switch {
				case met && !present:
					if known == nil {
						var err error
						if known, err = s.guildRoleIDs(ctx, member.GuildID); err != nil {
							return nil, err
						}
					}

					if _, ok := known[roleID]; !ok {
						s.logger.Debug("Skipping unknown role",
							zap.Uint64("guildID", member.GuildID),
							zap.Uint64("roleID", roleID),
							zap.String("action", action.ID.String()))

						continue
					}

					roles = append(roles, roleID)
				case !met && present && action.Metadata.CanRemove:
					roles = slices.DeleteFunc(roles, func(id uint64) bool { return id == roleID })
				}
			}

		case enum.ActionKindBanMember:
			if !met {
				continue
			}

			if err := s.members.BanMember(ctx, member.GuildID, member.UserID, auditReason(action)); err != nil {
				return nil, fmt.Errorf("failed to ban member: %w", err)
			}

			status = types.MemberStatusBanned

			break actions

		case enum.ActionKindKickMember:
			if !met {
				continue
			}

			if err := s.members.KickMember(ctx, member.GuildID, member.UserID, auditReason(action)); err != nil {
				return nil, fmt.Errorf("failed to kick member: %w", err)
			}

			status = types.MemberStatusKicked

			break actions

		case enum.ActionKindCancelSync:
			if met {
				return &Result{
					ServerID:            target.Server.ID,
					MemberStatus:        types.MemberStatusOK,
					RelevantConnections: eval.used,
				}, nil
			}

		case enum.ActionKindExecuteDocument:
			if met {
				s.executeDocument(ctx, action, member)
			}
		}
	}

	result := &Result{
		ServerID:             target.Server.ID,
		RoleChanges:          roleChanges(member.RoleIDs, roles),
		MemberStatus:         status,
		RelevantConnections:  eval.used,
		IsMissingConnections: eval.isMissingConnections(),
	}

	if status != types.MemberStatusOK {
		s.cache.Members.Remove(member.Key())
		return result, nil
	}

	nick := nicknameTarget(target.Server.DefaultNickname, user)
	if nick != nil && (member.Nick == nil || *member.Nick != *nick) && member.UserID != target.Guild.OwnerID {
		result.NicknameChange = &types.NicknameChange{Old: member.Nick, New: nick}
	}

	result.ProfileChanged = len(result.RoleChanges) > 0 || result.NicknameChange != nil
	if !result.ProfileChanged {
		return result, nil
	}

	update := platform.MemberUpdate{Reason: syncReason}
	if len(result.RoleChanges) > 0 {
		update.RoleIDs = &roles
	}

	if result.NicknameChange != nil {
		update.Nick = nick
	}

	updated, err := s.members.UpdateMember(ctx, member.GuildID, member.UserID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update member: %w", err)
	}

	s.cache.Members.Insert(updated.Key(), updated)

	for _, change := range result.RoleChanges {
		telemetry.RoleChanges.WithLabelValues(change.Kind.String()).Inc()
	}

	s.runMemberSynced(ctx, updated, result)

	return result, nil
}

// guildRoleIDs returns the ids of the roles that exist in a guild.
func (s *Service) guildRoleIDs(ctx context.Context, guildID uint64) (map[uint64]struct{}, error) {
	roles, err := s.cache.LoadGuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}

	ids := make(map[uint64]struct{}, len(roles))
	for _, role := range roles {
		ids[role.ID] = struct{}{}
	}

	return ids, nil
}

// roleChanges returns the roles added to and removed from before.
func roleChanges(before, after []uint64) []types.RoleChange {
	var changes []types.RoleChange

	for _, id := range after {
		if !slices.Contains(before, id) {
			changes = append(changes, types.RoleChange{Kind: types.RoleAdded, RoleID: id})
		}
	}

	for _, id := range before {
		if !slices.Contains(after, id) {
			changes = append(changes, types.RoleChange{Kind: types.RoleRemoved, RoleID: id})
		}
	}

	return changes
}

// nicknameTarget resolves the server nickname template for the user.
// Returns nil when the template is not recognised or cannot be resolved.
func nicknameTarget(template *string, user *types.User) *string {
	if template == nil {
		return nil
	}

	conn := user.Connection(enum.ConnectionKindRoblox)
	if conn == nil {
		return nil
	}

	switch *template {
	case NicknameRobloxUsername:
		return conn.Username
	case NicknameRobloxDisplayName:
		return conn.DisplayName
	default:
		return nil
	}
}

func auditReason(action *types.SyncAction) string {
	if action.Metadata.Reason == nil || *action.Metadata.Reason == "" {
		return "Met criteria of " + action.DisplayName
	}

	return fmt.Sprintf("Met criteria of %s - %s", action.DisplayName, *action.Metadata.Reason)
}

// executeDocument runs the document of an ExecuteDocument action inline.
func (s *Service) executeDocument(ctx context.Context, action *types.SyncAction, member *types.Member) {
	if s.runner == nil || action.Metadata.DocumentID == nil {
		return
	}

	document, err := s.cache.Documents.GetOrLoad(ctx, *action.Metadata.DocumentID)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Error("Failed to load action document",
				zap.Error(err),
				zap.String("action_id", action.ID.String()))
		}

		return
	}

	if !document.IsReady() || isRunning(ctx, document) {
		return
	}

	s.runner.RunMemberDocument(WithRunningDocument(ctx, document), document, member, nil)
}

// runMemberSynced starts the server's member synced document in the background.
func (s *Service) runMemberSynced(ctx context.Context, member *types.Member, result *Result) {
	if s.runner == nil {
		return
	}

	document, err := s.cache.ServerDocument(ctx, member.GuildID, types.EventMemberSynced)
	if err != nil {
		s.logger.Error("Failed to load member synced document", zap.Error(err), zap.Uint64("guild_id", member.GuildID))
		return
	}

	if document == nil || isRunning(ctx, document) {
		return
	}

	added := make([]string, 0, len(result.RoleChanges))
	removed := make([]string, 0, len(result.RoleChanges))

	for _, change := range result.RoleChanges {
		id := strconv.FormatUint(change.RoleID, 10)
		if change.Kind == types.RoleAdded {
			added = append(added, id)
		} else {
			removed = append(removed, id)
		}
	}

	extra := map[string]any{
		"role_changes": map[string]any{"added": added, "removed": removed},
	}

	runCtx := WithRunningDocument(context.WithoutCancel(ctx), document)

	s.background.Go(func() {
		ctx, cancel := context.WithTimeout(runCtx, BackgroundTimeout)
		defer cancel()

		s.runner.RunMemberDocument(ctx, document, member, extra)
	})
}
