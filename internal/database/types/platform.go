package types

import (
	"slices"
	"time"
)

// Guild is a snapshot of a chat platform guild.
type Guild struct {
	ID                uint64 `json:"id"`
	Name              string `json:"name"`
	OwnerID           uint64 `json:"owner_id"`
	VerificationLevel int    `json:"verification_level"`
	OnboardingEnabled bool   `json:"onboarding_enabled"`
}

// VerificationHigh is the lowest verification level that holds new members
// before they can talk.
const VerificationHigh = 3

// MemberKey identifies a member across guilds.
type MemberKey struct {
	GuildID uint64
	UserID  uint64
}

// Member is a snapshot of a guild member.
type Member struct {
	GuildID     uint64    `json:"guild_id"`
	UserID      uint64    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Nick        *string   `json:"nick"`
	RoleIDs     []uint64  `json:"roles"`
	Pending     bool      `json:"pending"`
	IsBot       bool      `json:"is_bot"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Key returns the cache key of the member.
func (m *Member) Key() MemberKey {
	return MemberKey{GuildID: m.GuildID, UserID: m.UserID}
}

// HasRole reports whether the member has the role.
func (m *Member) HasRole(roleID uint64) bool {
	return slices.Contains(m.RoleIDs, roleID)
}

// RoleKey identifies a role across guilds.
type RoleKey struct {
	GuildID uint64
	RoleID  uint64
}

// Role is a snapshot of a guild role.
type Role struct {
	GuildID  uint64 `json:"guild_id"`
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Managed  bool   `json:"managed"`
}

// Message is a snapshot of a guild message.
type Message struct {
	ID         uint64 `json:"id"`
	GuildID    uint64 `json:"guild_id"`
	ChannelID  uint64 `json:"channel_id"`
	AuthorID   uint64 `json:"author_id"`
	AuthorName string `json:"author_name"`
	AuthorBot  bool   `json:"author_bot"`
	Content    string `json:"content"`
}

// CommandKind is the kind of application command invoked.
type CommandKind int

const (
	CommandKindSlash CommandKind = iota + 1
	CommandKindUser
	CommandKindMessage
)

// Interaction is an application command invocation.
type Interaction struct {
	ID            uint64
	ApplicationID uint64
	Token         string
	GuildID       uint64
	CommandName   string
	CommandKind   CommandKind
	Member        *Member

	// TargetID is the targeted user or message of context menu commands, or
	// the user option of slash commands.
	TargetID uint64
	// CanManageGuild reports whether the invoking member may configure the guild.
	CanManageGuild bool
}
