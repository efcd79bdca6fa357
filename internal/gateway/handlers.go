package gateway

import (
	"context"
	"fmt"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/mellow-sync/mellow/internal/visual"
	"go.uber.org/zap"
)

// handleReady warms the server cache for every guild the bot is in.
func (d *Dispatcher) handleReady(ctx context.Context, e *platform.ReadyEvent) error {
	servers, err := d.cache.Servers.GetMany(ctx, e.GuildIDs)
	if err != nil {
		return fmt.Errorf("failed to warm server cache: %w", err)
	}

	d.logger.Info("Gateway ready",
		zap.Int("guilds", len(e.GuildIDs)),
		zap.Int("servers", len(servers)))

	return nil
}

func (d *Dispatcher) handleGuildCreate(_ context.Context, e *platform.GuildCreateEvent) error {
	guild := e.Guild
	d.cache.Guilds.Insert(guild.ID, &guild)

	roles := make([]*types.Role, len(e.Roles))
	for i := range e.Roles {
		roles[i] = &e.Roles[i]
	}

	d.cache.ReplaceGuildRoles(guild.ID, roles)

	return nil
}

func (d *Dispatcher) handleMemberAdd(ctx context.Context, e *platform.MemberAddEvent) error {
	member := e.Member
	d.cache.Members.Insert(member.Key(), &member)

	if member.Pending {
		d.pending.Store(member.Key(), struct{}{})
	}

	return d.documents.RunEvent(ctx, member.GuildID, types.EventMemberJoin, visual.MemberEnvironment(&member))
}

func (d *Dispatcher) handleMemberUpdate(ctx context.Context, e *platform.MemberUpdateEvent) error {
	member := e.Member
	key := member.Key()

	d.cache.Members.Insert(key, &member)

	if !member.Pending {
		if _, wasPending := d.pending.LoadAndDelete(key); wasPending {
			if err := d.passedScreening(ctx, &member); err != nil {
				return err
			}
		}
	}

	return d.documents.RunEvent(ctx, member.GuildID, types.EventMemberUpdated, visual.MemberEnvironment(&member))
}

// passedScreening handles a member that accepted the guild rules. Guilds with
// a high verification level and no onboarding still hold role-less members,
// so their onboarding completes once the hold has passed.
func (d *Dispatcher) passedScreening(ctx context.Context, member *types.Member) error {
	guild, err := d.cache.Guilds.GetOrLoad(ctx, member.GuildID)
	if err != nil {
		return fmt.Errorf("failed to get guild: %w", err)
	}

	if len(member.RoleIDs) == 0 && !guild.OnboardingEnabled && guild.VerificationLevel >= types.VerificationHigh {
		d.onboarding.Add(member.Key())
		return nil
	}

	d.onboardingCompleted(ctx, member)

	return nil
}

// completeOnboarding is called by the onboarding timer.
func (d *Dispatcher) completeOnboarding(ctx context.Context, key types.MemberKey) {
	member, err := d.cache.Member(ctx, key.GuildID, key.UserID)
	if err != nil {
		d.logger.Warn("Held member is gone",
			zap.Error(err),
			zap.Uint64("guild_id", key.GuildID),
			zap.Uint64("user_id", key.UserID))

		return
	}

	d.onboardingCompleted(ctx, member)
}

func (d *Dispatcher) onboardingCompleted(ctx context.Context, member *types.Member) {
	d.logs.Log(&serverlog.UserCompletedOnboarding{Member: *member})

	err := d.documents.RunEvent(ctx, member.GuildID, types.EventMemberCompletedOnboarding, visual.MemberEnvironment(member))
	if err != nil {
		d.logger.Error("Failed to run onboarding document",
			zap.Error(err),
			zap.Uint64("guild_id", member.GuildID),
			zap.Uint64("user_id", member.UserID))
	}
}

func (d *Dispatcher) handleMemberChunk(e *platform.MemberChunkEvent) {
	for i := range e.Members {
		member := e.Members[i]
		d.cache.Members.Insert(member.Key(), &member)
	}

	if e.IsLast() && e.Nonce != "" {
		d.requests.Complete(e.Nonce)
	}
}

func (d *Dispatcher) handleMessageCreate(ctx context.Context, e *platform.MessageCreateEvent) error {
	message := e.Message
	if message.AuthorBot || message.GuildID == 0 {
		return nil
	}

	initial := map[string]any{
		"message":  visual.MessageVariables(&message),
		"guild_id": fmt.Sprint(message.GuildID),
	}

	if member, ok := d.cache.Members.Get(types.MemberKey{GuildID: message.GuildID, UserID: message.AuthorID}); ok {
		initial["member"] = visual.MemberVariables(member)
	}

	return d.documents.RunEvent(ctx, message.GuildID, types.EventMessageCreated, initial)
}
