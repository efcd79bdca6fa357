// Package platform adapts the chat platform client to the domain model.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/mellow-sync/mellow/internal/database/types"
)

// ErrNotFound is returned when the platform reports an unknown entity.
var ErrNotFound = errors.New("platform entity not found")

// MemberUpdate carries the member fields to change. Nil fields are left as is.
type MemberUpdate struct {
	RoleIDs *[]uint64
	Nick    *string
	Reason  string
}

// IsEmpty reports whether the update changes nothing.
func (u MemberUpdate) IsEmpty() bool {
	return u.RoleIDs == nil && u.Nick == nil
}

// EmbedField is a name and value pair of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	Color       int
	AuthorName  string
	AuthorIcon  string
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// CommandOption is an option of a slash command. Only user options are needed.
type CommandOption struct {
	Name        string
	Description string
	Required    bool
}

// CommandSpec describes an application command to register.
type CommandSpec struct {
	Name        string
	Description string
	Kind        types.CommandKind
	Options     []CommandOption
}

// Guilds reads guild state.
type Guilds interface {
	GetGuild(ctx context.Context, guildID uint64) (*types.Guild, error)
	GetRoles(ctx context.Context, guildID uint64) ([]*types.Role, error)
	GetMember(ctx context.Context, guildID, userID uint64) (*types.Member, error)
}

// Members mutates guild members.
type Members interface {
	UpdateMember(ctx context.Context, guildID, userID uint64, update MemberUpdate) (*types.Member, error)
	BanMember(ctx context.Context, guildID, userID uint64, reason string) error
	KickMember(ctx context.Context, guildID, userID uint64, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID uint64, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID uint64, reason string) error
}

// Messages sends and manipulates channel messages.
type Messages interface {
	CreateMessage(ctx context.Context, channelID uint64, content string) (*types.Message, error)
	SendEmbeds(ctx context.Context, channelID uint64, embeds []Embed) error
	Reply(ctx context.Context, channelID, messageID uint64, content string) (*types.Message, error)
	AddReaction(ctx context.Context, channelID, messageID uint64, emoji string) error
	DeleteMessage(ctx context.Context, channelID, messageID uint64) error
	StartThread(ctx context.Context, channelID, messageID uint64, name string) error
}

// Interactions answers application commands.
type Interactions interface {
	RespondInteraction(ctx context.Context, interaction *types.Interaction, content string, ephemeral bool) error
	DeferInteraction(ctx context.Context, interaction *types.Interaction, ephemeral bool) error
	EditInteractionResponse(ctx context.Context, token, content string) error
	CreateFollowup(ctx context.Context, token, content string, ephemeral bool) error
	SetGlobalCommands(ctx context.Context, commands []CommandSpec) error
	SetGuildCommands(ctx context.Context, guildID uint64, commands []CommandSpec) error
}

// Gateway sends gateway requests.
type Gateway interface {
	RequestMembers(ctx context.Context, guildID uint64, userIDs []uint64, nonce string) error
}

// Platform is the full chat platform surface used by the bot.
type Platform interface {
	Guilds
	Members
	Messages
	Interactions
	Gateway
}
