package platform

import (
	"slices"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/mellow-sync/mellow/internal/database/types"
)

const onboardingFeature = discord.GuildFeature("GUILD_ONBOARDING")

func toGuild(
	id snowflake.ID, name string, ownerID snowflake.ID, level discord.VerificationLevel, features []discord.GuildFeature,
) types.Guild {
	return types.Guild{
		ID:                uint64(id),
		Name:              name,
		OwnerID:           uint64(ownerID),
		VerificationLevel: int(level),
		OnboardingEnabled: slices.Contains(features, onboardingFeature),
	}
}

func toMember(guildID snowflake.ID, member discord.Member) types.Member {
	roles := make([]uint64, len(member.RoleIDs))
	for i, roleID := range member.RoleIDs {
		roles[i] = uint64(roleID)
	}

	return types.Member{
		GuildID:     uint64(guildID),
		UserID:      uint64(member.User.ID),
		Username:    member.User.Username,
		DisplayName: member.EffectiveName(),
		AvatarURL:   member.EffectiveAvatarURL(),
		Nick:        member.Nick,
		RoleIDs:     roles,
		Pending:     member.Pending,
		IsBot:       member.User.Bot,
		JoinedAt:    member.JoinedAt,
	}
}

func toRole(guildID snowflake.ID, role discord.Role) types.Role {
	return types.Role{
		GuildID:  uint64(guildID),
		ID:       uint64(role.ID),
		Name:     role.Name,
		Position: role.Position,
		Managed:  role.Managed,
	}
}

func toRoles(guildID snowflake.ID, roles []discord.Role) []types.Role {
	converted := make([]types.Role, len(roles))
	for i, role := range roles {
		converted[i] = toRole(guildID, role)
	}

	return converted
}

func toMessage(guildID snowflake.ID, message discord.Message) types.Message {
	return types.Message{
		ID:         uint64(message.ID),
		GuildID:    uint64(guildID),
		ChannelID:  uint64(message.ChannelID),
		AuthorID:   uint64(message.Author.ID),
		AuthorName: message.Author.EffectiveName(),
		AuthorBot:  message.Author.Bot,
		Content:    message.Content,
	}
}

func toInteraction(event *events.ApplicationCommandInteractionCreate) types.Interaction {
	interaction := types.Interaction{
		ID:            uint64(event.ID()),
		ApplicationID: uint64(event.ApplicationID()),
		Token:         event.Token(),
		CommandName:   event.Data.CommandName(),
	}

	if guildID := event.GuildID(); guildID != nil {
		interaction.GuildID = uint64(*guildID)
	}

	if resolved := event.Member(); resolved != nil {
		member := toMember(snowflake.ID(interaction.GuildID), resolved.Member)
		interaction.Member = &member
		interaction.CanManageGuild = resolved.Permissions.Has(discord.PermissionManageGuild)
	}

	switch event.Data.Type() {
	case discord.ApplicationCommandTypeSlash:
		interaction.CommandKind = types.CommandKindSlash
		if user, ok := event.SlashCommandInteractionData().OptUser("member"); ok {
			interaction.TargetID = uint64(user.ID)
		}
	case discord.ApplicationCommandTypeUser:
		interaction.CommandKind = types.CommandKindUser
		interaction.TargetID = uint64(event.UserCommandInteractionData().TargetID())
	case discord.ApplicationCommandTypeMessage:
		interaction.CommandKind = types.CommandKindMessage
		interaction.TargetID = uint64(event.MessageCommandInteractionData().TargetID())
	}

	return interaction
}

func toEmbed(embed Embed) discord.Embed {
	out := discord.Embed{
		Title:       embed.Title,
		Description: embed.Description,
		Color:       embed.Color,
	}

	if embed.AuthorName != "" {
		out.Author = &discord.EmbedAuthor{Name: embed.AuthorName, IconURL: embed.AuthorIcon}
	}

	if embed.Footer != "" {
		out.Footer = &discord.EmbedFooter{Text: embed.Footer}
	}

	if !embed.Timestamp.IsZero() {
		timestamp := embed.Timestamp
		out.Timestamp = &timestamp
	}

	for _, field := range embed.Fields {
		inline := field.Inline
		out.Fields = append(out.Fields, discord.EmbedField{Name: field.Name, Value: field.Value, Inline: &inline})
	}

	return out
}

func toCommandCreate(spec CommandSpec) discord.ApplicationCommandCreate {
	switch spec.Kind {
	case types.CommandKindUser:
		return discord.UserCommandCreate{Name: spec.Name}
	case types.CommandKindMessage:
		return discord.MessageCommandCreate{Name: spec.Name}
	default:
		options := make([]discord.ApplicationCommandOption, 0, len(spec.Options))
		for _, option := range spec.Options {
			options = append(options, discord.ApplicationCommandOptionUser{
				Name:        option.Name,
				Description: option.Description,
				Required:    option.Required,
			})
		}

		return discord.SlashCommandCreate{
			Name:        spec.Name,
			Description: spec.Description,
			Options:     options,
		}
	}
}

func toSnowflakes(ids []uint64) []snowflake.ID {
	out := make([]snowflake.ID, len(ids))
	for i, id := range ids {
		out[i] = snowflake.ID(id)
	}

	return out
}
