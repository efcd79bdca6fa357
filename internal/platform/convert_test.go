package platform

import (
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGuildOnboarding(t *testing.T) {
	t.Parallel()

	guild := toGuild(1, "cafe", 2, discord.VerificationLevelHigh, []discord.GuildFeature{onboardingFeature})
	assert.Equal(t, uint64(1), guild.ID)
	assert.Equal(t, uint64(2), guild.OwnerID)
	assert.Equal(t, types.VerificationHigh, guild.VerificationLevel)
	assert.True(t, guild.OnboardingEnabled)

	guild = toGuild(1, "cafe", 2, discord.VerificationLevelNone, nil)
	assert.False(t, guild.OnboardingEnabled)
}

func TestToMember(t *testing.T) {
	t.Parallel()

	nick := "kitty"
	member := toMember(10, discord.Member{
		User:    discord.User{ID: 20, Username: "cat"},
		Nick:    &nick,
		RoleIDs: []snowflake.ID{3, 4},
		Pending: true,
	})

	assert.Equal(t, types.MemberKey{GuildID: 10, UserID: 20}, member.Key())
	assert.Equal(t, "cat", member.Username)
	assert.Equal(t, "kitty", member.DisplayName)
	assert.Equal(t, []uint64{3, 4}, member.RoleIDs)
	assert.True(t, member.Pending)
}

func TestToRoles(t *testing.T) {
	t.Parallel()

	roles := toRoles(7, []discord.Role{{ID: 1, Name: "@everyone"}, {ID: 2, Name: "Verified", Position: 3}})

	require.Len(t, roles, 2)
	assert.Equal(t, types.Role{GuildID: 7, ID: 2, Name: "Verified", Position: 3}, roles[1])
	assert.Empty(t, toRoles(7, nil))
}

func TestToEmbed(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	embed := toEmbed(Embed{
		Title:      "Member synced",
		AuthorName: "cat",
		Footer:     "mellow",
		Timestamp:  at,
		Fields:     []EmbedField{{Name: "Roles", Value: "+ a", Inline: true}},
	})

	require.NotNil(t, embed.Author)
	assert.Equal(t, "cat", embed.Author.Name)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "mellow", embed.Footer.Text)
	require.NotNil(t, embed.Timestamp)
	assert.True(t, at.Equal(*embed.Timestamp))
	require.Len(t, embed.Fields, 1)
	assert.True(t, *embed.Fields[0].Inline)

	bare := toEmbed(Embed{Title: "plain"})
	assert.Nil(t, bare.Author)
	assert.Nil(t, bare.Footer)
	assert.Nil(t, bare.Timestamp)
}

func TestToCommandCreate(t *testing.T) {
	t.Parallel()

	slash, ok := toCommandCreate(CommandSpec{
		Name:        "forcesync",
		Description: "Sync a member",
		Options:     []CommandOption{{Name: "member", Description: "Member to sync", Required: true}},
	}).(discord.SlashCommandCreate)
	require.True(t, ok)
	assert.Equal(t, "forcesync", slash.Name)
	require.Len(t, slash.Options, 1)

	_, ok = toCommandCreate(CommandSpec{Name: "Sync Profile", Kind: types.CommandKindUser}).(discord.UserCommandCreate)
	assert.True(t, ok)

	_, ok = toCommandCreate(CommandSpec{Name: "Report", Kind: types.CommandKindMessage}).(discord.MessageCommandCreate)
	assert.True(t, ok)
}

func TestMemberUpdateIsEmpty(t *testing.T) {
	t.Parallel()

	nick := "new"
	assert.True(t, MemberUpdate{Reason: "sync"}.IsEmpty())
	assert.False(t, MemberUpdate{Nick: &nick}.IsEmpty())
}
