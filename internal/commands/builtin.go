package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"go.uber.org/zap"
)

// Command is a built-in application command.
type Command struct {
	Spec        platform.CommandSpec
	GuildOnly   bool
	ManageGuild bool
	Handle      func(ctx context.Context, interaction *types.Interaction) error
}

func (h *Handler) builtins() []*Command {
	target := []platform.CommandOption{{Name: "member", Description: "The member to sync", Required: true}}

	return []*Command{
		{
			Spec:        platform.CommandSpec{Name: "setup", Description: "Set up mellow in this server", Kind: types.CommandKindSlash},
			GuildOnly:   true,
			ManageGuild: true,
			Handle:      h.handleSetup,
		},
		{
			Spec:      platform.CommandSpec{Name: "sync", Description: "Sync your server profile", Kind: types.CommandKindSlash},
			GuildOnly: true,
			Handle:    h.handleSync,
		},
		{
			Spec: platform.CommandSpec{
				Name: "forcesync", Description: "Sync the server profile of another member",
				Kind: types.CommandKindSlash, Options: target,
			},
			GuildOnly:   true,
			ManageGuild: true,
			Handle:      h.handleForceSync,
		},
		{
			Spec:        platform.CommandSpec{Name: "Sync Profile", Kind: types.CommandKindUser},
			GuildOnly:   true,
			ManageGuild: true,
			Handle:      h.handleForceSync,
		},
		{
			Spec:        platform.CommandSpec{Name: "forcesyncall", Description: "Sync every registered member", Kind: types.CommandKindSlash},
			GuildOnly:   true,
			ManageGuild: true,
			Handle:      h.handleForceSyncAll,
		},
	}
}

func (h *Handler) handleSetup(ctx context.Context, interaction *types.Interaction) error {
	_, err := h.cache.Server(ctx, interaction.GuildID)
	switch {
	case err == nil:
		return h.platform.RespondInteraction(ctx, interaction, "mellow is already set up in this server.", true)
	case !errors.Is(err, types.ErrServerNotFound):
		return err
	}

	server, err := h.servers.Create(ctx, interaction.GuildID)
	if err != nil {
		return err
	}

	h.cache.Servers.Insert(server.ID, server)

	return h.platform.RespondInteraction(ctx, interaction,
		fmt.Sprintf("mellow is now set up! Configure it at %s", h.signUpLink(interaction.GuildID)), true)
}

// handleSync syncs the invoking member, or records a sign-up when the
// member is not registered yet.
func (h *Handler) handleSync(ctx context.Context, interaction *types.Interaction) error {
	if interaction.Member == nil {
		return h.platform.RespondInteraction(ctx, interaction, "This command can only be used in a server.", true)
	}

	if err := h.platform.DeferInteraction(ctx, interaction, true); err != nil {
		return fmt.Errorf("failed to defer sync: %w", err)
	}

	userID := interaction.Member.UserID

	h.spawn(func(ctx context.Context) {
		result, err := h.syncer.SyncAndLog(ctx, memberSync.Request{GuildID: interaction.GuildID, UserID: userID})
		if errors.Is(err, types.ErrUserNotFound) {
			h.signUps.Add(userID, interaction.GuildID, interaction.Token)
			h.editResponse(ctx, interaction.Token, h.signUpMessage(interaction.GuildID))

			return
		}

		h.editResponse(ctx, interaction.Token, h.syncReply(result, err, true))
	})

	return nil
}

func (h *Handler) handleForceSync(ctx context.Context, interaction *types.Interaction) error {
	server, err := h.cache.Server(ctx, interaction.GuildID)
	if errors.Is(err, types.ErrServerNotFound) {
		return h.platform.RespondInteraction(ctx, interaction, "mellow is not set up in this server.", true)
	}

	if err != nil {
		return err
	}

	if !server.AllowForcedSyncing {
		return h.platform.RespondInteraction(ctx, interaction, "Forced syncing is disabled in this server.", true)
	}

	if interaction.TargetID == 0 {
		return h.platform.RespondInteraction(ctx, interaction, "Pick a member to sync.", true)
	}

	if err := h.platform.DeferInteraction(ctx, interaction, true); err != nil {
		return fmt.Errorf("failed to defer forcesync: %w", err)
	}

	req := memberSync.Request{GuildID: interaction.GuildID, UserID: interaction.TargetID}
	if interaction.Member != nil {
		forcedBy := interaction.Member.UserID
		req.ForcedBy = &forcedBy
	}

	h.spawn(func(ctx context.Context) {
		result, err := h.syncer.SyncAndLog(ctx, req)
		if errors.Is(err, types.ErrUserNotFound) {
			h.editResponse(ctx, interaction.Token, fmt.Sprintf("<@%d> is not signed up with mellow.", req.UserID))
			return
		}

		h.editResponse(ctx, interaction.Token, h.syncReply(result, err, false))
	})

	return nil
}

// SyncWithToken completes a pending sign-up: the member is synced and the
// saved interaction reply is updated with the result.
func (h *Handler) SyncWithToken(ctx context.Context, guildID, userID uint64) (*memberSync.Result, error) {
	signUp, err := h.signUps.Get(guildID, userID)
	if err != nil {
		return nil, err
	}

	result, err := h.syncer.SyncAndLog(ctx, memberSync.Request{GuildID: guildID, UserID: userID})
	if err != nil {
		return nil, err
	}

	h.signUps.Remove(guildID, userID)
	h.editResponse(ctx, signUp.InteractionToken, h.syncReply(result, nil, true))

	h.logger.Debug("Completed sign-up",
		zap.Uint64("guild_id", guildID),
		zap.Uint64("user_id", userID))

	return result, nil
}

// ReportSync updates an interaction reply with a sync result.
func (h *Handler) ReportSync(ctx context.Context, token string, result *memberSync.Result) {
	h.editResponse(ctx, token, h.syncReply(result, nil, true))
}

func (h *Handler) signUpLink(guildID uint64) string {
	return fmt.Sprintf(h.signUpURL, guildID)
}

func (h *Handler) signUpMessage(guildID uint64) string {
	return fmt.Sprintf("You are not signed up with mellow yet. Sign up at %s and your profile will sync automatically.",
		h.signUpLink(guildID))
}
