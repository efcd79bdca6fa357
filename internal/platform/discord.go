package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/mellow-sync/mellow/internal/database/types"
	"go.uber.org/zap"
)

// Discord implements Platform on top of a disgo client.
type Discord struct {
	client  bot.Client
	handler Handler
	logger  *zap.Logger
}

// NewDiscord configures a disgo client with the intents the bot needs.
// Translated gateway events are passed to handler.
func NewDiscord(token, statusText string, handler Handler, logger *zap.Logger) (*Discord, error) {
	d := &Discord{
		handler: handler,
		logger:  logger.Named("discord"),
	}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
			),
			gateway.WithPresenceOpts(gateway.WithCustomActivity(statusText)),
		),
		bot.WithEventListeners(d.listener()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	d.client = client

	return d, nil
}

// SetHandler replaces the event handler. It must be called before Open.
func (d *Discord) SetHandler(handler Handler) {
	d.handler = handler
}

// ApplicationID returns the id of the bot application.
func (d *Discord) ApplicationID() uint64 {
	return uint64(d.client.ApplicationID())
}

// Open connects to the gateway.
func (d *Discord) Open(ctx context.Context) error {
	d.logger.Info("Opening gateway")
	return d.client.OpenGateway(ctx)
}

// CloseGateway stops receiving events while keeping the REST client usable.
func (d *Discord) CloseGateway(ctx context.Context) {
	if d.client.HasGateway() {
		d.client.Gateway().Close(ctx)
	}
}

// Close disconnects from the gateway.
func (d *Discord) Close(ctx context.Context) {
	d.logger.Info("Closing gateway")
	d.client.Close(ctx)
}

func (d *Discord) dispatch(event Event) {
	if d.handler != nil {
		d.handler.Dispatch(event)
	}
}

// listener translates disgo events to domain events.
func (d *Discord) listener() *events.ListenerAdapter {
	return &events.ListenerAdapter{
		OnReady: func(e *events.Ready) {
			guildIDs := make([]uint64, len(e.Guilds))
			for i, guild := range e.Guilds {
				guildIDs[i] = uint64(guild.ID)
			}

			d.dispatch(&ReadyEvent{GuildIDs: guildIDs})
		},
		OnGuildReady: func(e *events.GuildReady) {
			d.dispatch(&GuildCreateEvent{
				Guild: toGuild(e.Guild.ID, e.Guild.Name, e.Guild.OwnerID, e.Guild.VerificationLevel, e.Guild.Features),
				Roles: toRoles(e.Guild.ID, e.Guild.Roles),
			})
		},
		OnGuildJoin: func(e *events.GuildJoin) {
			d.dispatch(&GuildCreateEvent{
				Guild: toGuild(e.Guild.ID, e.Guild.Name, e.Guild.OwnerID, e.Guild.VerificationLevel, e.Guild.Features),
				Roles: toRoles(e.Guild.ID, e.Guild.Roles),
			})
		},
		OnGuildUpdate: func(e *events.GuildUpdate) {
			d.dispatch(&GuildUpdateEvent{Guild: toGuild(
				e.Guild.ID, e.Guild.Name, e.Guild.OwnerID, e.Guild.VerificationLevel, e.Guild.Features,
			)})
		},
		OnGuildLeave: func(e *events.GuildLeave) {
			d.dispatch(&GuildDeleteEvent{GuildID: uint64(e.GuildID)})
		},
		OnGuildMemberJoin: func(e *events.GuildMemberJoin) {
			d.dispatch(&MemberAddEvent{Member: toMember(e.GuildID, e.Member)})
		},
		OnGuildMemberUpdate: func(e *events.GuildMemberUpdate) {
			d.dispatch(&MemberUpdateEvent{Member: toMember(e.GuildID, e.Member)})
		},
		OnGuildMemberLeave: func(e *events.GuildMemberLeave) {
			d.dispatch(&MemberRemoveEvent{GuildID: uint64(e.GuildID), UserID: uint64(e.User.ID)})
		},
		OnGuildMembersChunk: func(e *events.GuildMembersChunk) {
			members := make([]types.Member, len(e.Members))
			for i, member := range e.Members {
				members[i] = toMember(e.GuildID, member)
			}

			d.dispatch(&MemberChunkEvent{
				GuildID:    uint64(e.GuildID),
				Members:    members,
				ChunkIndex: e.ChunkIndex,
				ChunkCount: e.ChunkCount,
				Nonce:      e.Nonce,
			})
		},
		OnGuildMessageCreate: func(e *events.GuildMessageCreate) {
			d.dispatch(&MessageCreateEvent{Message: toMessage(e.GuildID, e.Message)})
		},
		OnRoleCreate: func(e *events.RoleCreate) {
			d.dispatch(&RoleUpsertEvent{Role: toRole(e.GuildID, e.Role)})
		},
		OnRoleUpdate: func(e *events.RoleUpdate) {
			d.dispatch(&RoleUpsertEvent{Role: toRole(e.GuildID, e.Role)})
		},
		OnRoleDelete: func(e *events.RoleDelete) {
			d.dispatch(&RoleDeleteEvent{GuildID: uint64(e.GuildID), RoleID: uint64(e.RoleID)})
		},
		OnApplicationCommandInteraction: func(e *events.ApplicationCommandInteractionCreate) {
			d.dispatch(&InteractionEvent{Interaction: toInteraction(e)})
		},
	}
}

// mapError converts unknown entity responses to ErrNotFound.
func mapError(err error) error {
	var restErr *rest.Error
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}

func requestOpts(ctx context.Context, reason string) []rest.RequestOpt {
	opts := []rest.RequestOpt{rest.WithCtx(ctx)}
	if reason != "" {
		opts = append(opts, rest.WithReason(reason))
	}

	return opts
}

func (d *Discord) GetGuild(ctx context.Context, guildID uint64) (*types.Guild, error) {
	guild, err := d.client.Rest().GetGuild(snowflake.ID(guildID), false, rest.WithCtx(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	result := toGuild(guild.ID, guild.Name, guild.OwnerID, guild.VerificationLevel, guild.Features)

	return &result, nil
}

func (d *Discord) GetRoles(ctx context.Context, guildID uint64) ([]*types.Role, error) {
	roles, err := d.client.Rest().GetRoles(snowflake.ID(guildID), rest.WithCtx(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	result := make([]*types.Role, len(roles))
	for i, role := range roles {
		converted := toRole(snowflake.ID(guildID), role)
		result[i] = &converted
	}

	return result, nil
}

func (d *Discord) GetMember(ctx context.Context, guildID, userID uint64) (*types.Member, error) {
	member, err := d.client.Rest().GetMember(snowflake.ID(guildID), snowflake.ID(userID), rest.WithCtx(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	result := toMember(snowflake.ID(guildID), *member)

	return &result, nil
}

func (d *Discord) UpdateMember(ctx context.Context, guildID, userID uint64, update MemberUpdate) (*types.Member, error) {
	memberUpdate := discord.MemberUpdate{Nick: update.Nick}
	if update.RoleIDs != nil {
		roles := toSnowflakes(*update.RoleIDs)
		memberUpdate.Roles = &roles
	}

	member, err := d.client.Rest().UpdateMember(
		snowflake.ID(guildID), snowflake.ID(userID), memberUpdate, requestOpts(ctx, update.Reason)...,
	)
	if err != nil {
		return nil, mapError(err)
	}

	result := toMember(snowflake.ID(guildID), *member)

	return &result, nil
}

func (d *Discord) BanMember(ctx context.Context, guildID, userID uint64, reason string) error {
	return d.client.Rest().AddBan(snowflake.ID(guildID), snowflake.ID(userID), 0, requestOpts(ctx, reason)...)
}

func (d *Discord) KickMember(ctx context.Context, guildID, userID uint64, reason string) error {
	return d.client.Rest().RemoveMember(snowflake.ID(guildID), snowflake.ID(userID), requestOpts(ctx, reason)...)
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID uint64, reason string) error {
	return d.client.Rest().AddMemberRole(
		snowflake.ID(guildID), snowflake.ID(userID), snowflake.ID(roleID), requestOpts(ctx, reason)...,
	)
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID uint64, reason string) error {
	return d.client.Rest().RemoveMemberRole(
		snowflake.ID(guildID), snowflake.ID(userID), snowflake.ID(roleID), requestOpts(ctx, reason)...,
	)
}

func (d *Discord) CreateMessage(ctx context.Context, channelID uint64, content string) (*types.Message, error) {
	message, err := d.client.Rest().CreateMessage(snowflake.ID(channelID), discord.MessageCreate{
		Content: content,
	}, rest.WithCtx(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	result := toMessage(0, *message)

	return &result, nil
}

func (d *Discord) SendEmbeds(ctx context.Context, channelID uint64, embeds []Embed) error {
	converted := make([]discord.Embed, len(embeds))
	for i, embed := range embeds {
		converted[i] = toEmbed(embed)
	}

	_, err := d.client.Rest().CreateMessage(snowflake.ID(channelID), discord.MessageCreate{
		Embeds: converted,
	}, rest.WithCtx(ctx))

	return mapError(err)
}

func (d *Discord) Reply(ctx context.Context, channelID, messageID uint64, content string) (*types.Message, error) {
	channel := snowflake.ID(channelID)
	reference := snowflake.ID(messageID)

	message, err := d.client.Rest().CreateMessage(channel, discord.MessageCreate{
		Content:          content,
		MessageReference: &discord.MessageReference{MessageID: &reference, ChannelID: &channel},
	}, rest.WithCtx(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	result := toMessage(0, *message)

	return &result, nil
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID uint64, emoji string) error {
	return mapError(d.client.Rest().AddReaction(snowflake.ID(channelID), snowflake.ID(messageID), emoji, rest.WithCtx(ctx)))
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	return mapError(d.client.Rest().DeleteMessage(snowflake.ID(channelID), snowflake.ID(messageID), rest.WithCtx(ctx)))
}

func (d *Discord) StartThread(ctx context.Context, channelID, messageID uint64, name string) error {
	_, err := d.client.Rest().CreateThreadFromMessage(snowflake.ID(channelID), snowflake.ID(messageID),
		discord.ThreadCreateFromMessage{Name: name}, rest.WithCtx(ctx))

	return mapError(err)
}

func messageFlags(ephemeral bool) discord.MessageFlags {
	if ephemeral {
		return discord.MessageFlagEphemeral
	}

	return 0
}

func (d *Discord) RespondInteraction(
	ctx context.Context, interaction *types.Interaction, content string, ephemeral bool,
) error {
	return d.client.Rest().CreateInteractionResponse(snowflake.ID(interaction.ID), interaction.Token, discord.InteractionResponse{
		Type: discord.InteractionResponseTypeCreateMessage,
		Data: discord.MessageCreate{Content: content, Flags: messageFlags(ephemeral)},
	}, rest.WithCtx(ctx))
}

func (d *Discord) DeferInteraction(ctx context.Context, interaction *types.Interaction, ephemeral bool) error {
	return d.client.Rest().CreateInteractionResponse(snowflake.ID(interaction.ID), interaction.Token, discord.InteractionResponse{
		Type: discord.InteractionResponseTypeDeferredCreateMessage,
		Data: discord.MessageCreate{Flags: messageFlags(ephemeral)},
	}, rest.WithCtx(ctx))
}

func (d *Discord) EditInteractionResponse(ctx context.Context, token, content string) error {
	_, err := d.client.Rest().UpdateInteractionResponse(d.client.ApplicationID(), token, discord.MessageUpdate{
		Content: &content,
	}, rest.WithCtx(ctx))

	return mapError(err)
}

func (d *Discord) CreateFollowup(ctx context.Context, token, content string, ephemeral bool) error {
	_, err := d.client.Rest().CreateFollowupMessage(d.client.ApplicationID(), token, discord.MessageCreate{
		Content: content,
		Flags:   messageFlags(ephemeral),
	}, rest.WithCtx(ctx))

	return mapError(err)
}

func (d *Discord) SetGlobalCommands(ctx context.Context, commands []CommandSpec) error {
	creates := make([]discord.ApplicationCommandCreate, len(commands))
	for i, command := range commands {
		creates[i] = toCommandCreate(command)
	}

	_, err := d.client.Rest().SetGlobalCommands(d.client.ApplicationID(), creates, rest.WithCtx(ctx))

	return err
}

func (d *Discord) SetGuildCommands(ctx context.Context, guildID uint64, commands []CommandSpec) error {
	creates := make([]discord.ApplicationCommandCreate, len(commands))
	for i, command := range commands {
		creates[i] = toCommandCreate(command)
	}

	_, err := d.client.Rest().SetGuildCommands(d.client.ApplicationID(), snowflake.ID(guildID), creates, rest.WithCtx(ctx))

	return err
}

func (d *Discord) RequestMembers(ctx context.Context, guildID uint64, userIDs []uint64, nonce string) error {
	return d.client.RequestMembers(ctx, snowflake.ID(guildID), false, nonce, toSnowflakes(userIDs)...)
}
