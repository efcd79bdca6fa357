// Package platformtest provides an in-memory chat platform for tests.
package platformtest

import (
	"context"
	"slices"
	"sync"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
)

// Call records one request made to the fake.
type Call struct {
	Method    string
	GuildID   uint64
	UserID    uint64
	RoleID    uint64
	ChannelID uint64
	MessageID uint64
	Content   string
	Reason    string
	Token     string
	Ephemeral bool
	Nonce     string
	UserIDs   []uint64
	Update    platform.MemberUpdate
	Embeds    []platform.Embed
	Commands  []platform.CommandSpec
}

// Fake implements platform.Platform against in-memory state.
type Fake struct {
	mu sync.Mutex

	guilds  map[uint64]*types.Guild
	members map[types.MemberKey]*types.Member
	roles   map[uint64][]*types.Role
	calls   []Call
	errors  map[string]error
	nextID  uint64

	// OnRequestMembers is called after a member request is recorded.
	OnRequestMembers func(guildID uint64, userIDs []uint64, nonce string)
}

var _ platform.Platform = (*Fake)(nil)

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		guilds:  make(map[uint64]*types.Guild),
		members: make(map[types.MemberKey]*types.Member),
		roles:   make(map[uint64][]*types.Role),
		errors:  make(map[string]error),
		nextID:  1000,
	}
}

// AddGuild stores a guild.
func (f *Fake) AddGuild(guild *types.Guild, roles ...*types.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.guilds[guild.ID] = guild
	f.roles[guild.ID] = roles
}

// AddMember stores a member.
func (f *Fake) AddMember(member *types.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := *member
	f.members[member.Key()] = &copied
}

// StoredMember returns the current state of a member.
func (f *Fake) StoredMember(guildID, userID uint64) (*types.Member, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	member, ok := f.members[types.MemberKey{GuildID: guildID, UserID: userID}]
	if !ok {
		return nil, false
	}

	copied := *member

	return &copied, true
}

// FailOn makes every call to method return err.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errors[method] = err
}

// Calls returns every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

// CallsTo returns the recorded calls of one method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var calls []Call
	for _, call := range f.calls {
		if call.Method == method {
			calls = append(calls, call)
		}
	}

	return calls
}

func (f *Fake) record(call Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)

	return f.errors[call.Method]
}

func (f *Fake) GetGuild(_ context.Context, guildID uint64) (*types.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	guild, ok := f.guilds[guildID]
	if !ok {
		return nil, platform.ErrNotFound
	}

	copied := *guild

	return &copied, nil
}

func (f *Fake) GetRoles(_ context.Context, guildID uint64) ([]*types.Role, error) {
	if err := f.record(Call{Method: "GetRoles", GuildID: guildID}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.roles[guildID]), nil
}

func (f *Fake) GetMember(_ context.Context, guildID, userID uint64) (*types.Member, error) {
	member, ok := f.StoredMember(guildID, userID)
	if !ok {
		return nil, platform.ErrNotFound
	}

	return member, nil
}

func (f *Fake) UpdateMember(
	_ context.Context, guildID, userID uint64, update platform.MemberUpdate,
) (*types.Member, error) {
	if err := f.record(Call{Method: "UpdateMember", GuildID: guildID, UserID: userID, Update: update, Reason: update.Reason}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := types.MemberKey{GuildID: guildID, UserID: userID}

	member, ok := f.members[key]
	if !ok {
		member = &types.Member{GuildID: guildID, UserID: userID}
		f.members[key] = member
	}

	if update.RoleIDs != nil {
		member.RoleIDs = slices.Clone(*update.RoleIDs)
	}

	if update.Nick != nil {
		nick := *update.Nick
		member.Nick = &nick
	}

	copied := *member

	return &copied, nil
}

func (f *Fake) BanMember(_ context.Context, guildID, userID uint64, reason string) error {
	return f.record(Call{Method: "BanMember", GuildID: guildID, UserID: userID, Reason: reason})
}

func (f *Fake) KickMember(_ context.Context, guildID, userID uint64, reason string) error {
	return f.record(Call{Method: "KickMember", GuildID: guildID, UserID: userID, Reason: reason})
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID uint64, reason string) error {
	return f.record(Call{Method: "AddRole", GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason})
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID uint64, reason string) error {
	return f.record(Call{Method: "RemoveRole", GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason})
}

func (f *Fake) newMessage(channelID uint64, content string) *types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++

	return &types.Message{ID: f.nextID, ChannelID: channelID, Content: content}
}

func (f *Fake) CreateMessage(_ context.Context, channelID uint64, content string) (*types.Message, error) {
	if err := f.record(Call{Method: "CreateMessage", ChannelID: channelID, Content: content}); err != nil {
		return nil, err
	}

	return f.newMessage(channelID, content), nil
}

func (f *Fake) SendEmbeds(_ context.Context, channelID uint64, embeds []platform.Embed) error {
	return f.record(Call{Method: "SendEmbeds", ChannelID: channelID, Embeds: slices.Clone(embeds)})
}

func (f *Fake) Reply(_ context.Context, channelID, messageID uint64, content string) (*types.Message, error) {
	if err := f.record(Call{Method: "Reply", ChannelID: channelID, MessageID: messageID, Content: content}); err != nil {
		return nil, err
	}

	return f.newMessage(channelID, content), nil
}

func (f *Fake) AddReaction(_ context.Context, channelID, messageID uint64, emoji string) error {
	return f.record(Call{Method: "AddReaction", ChannelID: channelID, MessageID: messageID, Content: emoji})
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID uint64) error {
	return f.record(Call{Method: "DeleteMessage", ChannelID: channelID, MessageID: messageID})
}

func (f *Fake) StartThread(_ context.Context, channelID, messageID uint64, name string) error {
	return f.record(Call{Method: "StartThread", ChannelID: channelID, MessageID: messageID, Content: name})
}

func (f *Fake) RespondInteraction(
	_ context.Context, interaction *types.Interaction, content string, ephemeral bool,
) error {
	return f.record(Call{
		Method: "RespondInteraction", GuildID: interaction.GuildID, Token: interaction.Token,
		Content: content, Ephemeral: ephemeral,
	})
}

func (f *Fake) DeferInteraction(_ context.Context, interaction *types.Interaction, ephemeral bool) error {
	return f.record(Call{
		Method: "DeferInteraction", GuildID: interaction.GuildID, Token: interaction.Token, Ephemeral: ephemeral,
	})
}

func (f *Fake) EditInteractionResponse(_ context.Context, token, content string) error {
	return f.record(Call{Method: "EditInteractionResponse", Token: token, Content: content})
}

func (f *Fake) CreateFollowup(_ context.Context, token, content string, ephemeral bool) error {
	return f.record(Call{Method: "CreateFollowup", Token: token, Content: content, Ephemeral: ephemeral})
}

func (f *Fake) SetGlobalCommands(_ context.Context, commands []platform.CommandSpec) error {
	return f.record(Call{Method: "SetGlobalCommands", Commands: slices.Clone(commands)})
}

func (f *Fake) SetGuildCommands(_ context.Context, guildID uint64, commands []platform.CommandSpec) error {
	return f.record(Call{Method: "SetGuildCommands", GuildID: guildID, Commands: slices.Clone(commands)})
}

func (f *Fake) RequestMembers(_ context.Context, guildID uint64, userIDs []uint64, nonce string) error {
	if err := f.record(Call{Method: "RequestMembers", GuildID: guildID, UserIDs: slices.Clone(userIDs), Nonce: nonce}); err != nil {
		return err
	}

	if f.OnRequestMembers != nil {
		f.OnRequestMembers(guildID, userIDs, nonce)
	}

	return nil
}
