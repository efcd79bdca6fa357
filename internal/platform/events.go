package platform

import "github.com/mellow-sync/mellow/internal/database/types"

// Event is a gateway event translated to the domain model.
type Event interface {
	// Name identifies the event kind in logs and metrics.
	Name() string
}

// Handler receives translated gateway events.
type Handler interface {
	Dispatch(event Event)
}

type ReadyEvent struct {
	GuildIDs []uint64
}

type GuildCreateEvent struct {
	Guild types.Guild
	Roles []types.Role
}

type GuildUpdateEvent struct {
	Guild types.Guild
}

type GuildDeleteEvent struct {
	GuildID uint64
}

type MemberAddEvent struct {
	Member types.Member
}

type MemberUpdateEvent struct {
	Member types.Member
}

type MemberRemoveEvent struct {
	GuildID uint64
	UserID  uint64
}

// MemberChunkEvent is one batch of a member request.
type MemberChunkEvent struct {
	GuildID    uint64
	Members    []types.Member
	ChunkIndex int
	ChunkCount int
	Nonce      string
}

// IsLast reports whether this chunk completes its request.
func (e *MemberChunkEvent) IsLast() bool {
	return e.ChunkIndex == e.ChunkCount-1
}

type MessageCreateEvent struct {
	Message types.Message
}

type RoleUpsertEvent struct {
	Role types.Role
}

type RoleDeleteEvent struct {
	GuildID uint64
	RoleID  uint64
}

type InteractionEvent struct {
	Interaction types.Interaction
}

func (*ReadyEvent) Name() string         { return "ready" }
func (*GuildCreateEvent) Name() string   { return "guild_create" }
func (*GuildUpdateEvent) Name() string   { return "guild_update" }
func (*GuildDeleteEvent) Name() string   { return "guild_delete" }
func (*MemberAddEvent) Name() string     { return "member_add" }
func (*MemberUpdateEvent) Name() string  { return "member_update" }
func (*MemberRemoveEvent) Name() string  { return "member_remove" }
func (*MemberChunkEvent) Name() string   { return "member_chunk" }
func (*MessageCreateEvent) Name() string { return "message_create" }
func (*RoleUpsertEvent) Name() string    { return "role_upsert" }
func (*RoleDeleteEvent) Name() string    { return "role_delete" }
func (*InteractionEvent) Name() string   { return "interaction_create" }
