package gateway_test

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/cache/cachetest"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/gateway"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/platform/platformtest"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const guildID = uint64(1)

type documentCall struct {
	guildID uint64
	kind    types.EventKind
	initial map[string]any
}

type documentStub struct {
	mu    stdsync.Mutex
	calls []documentCall
	panic bool
}

func (d *documentStub) RunEvent(_ context.Context, guildID uint64, kind types.EventKind, initial map[string]any) error {
	if d.panic {
		panic("document exploded")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, documentCall{guildID: guildID, kind: kind, initial: initial})

	return nil
}

func (d *documentStub) kinds() []types.EventKind {
	d.mu.Lock()
	defer d.mu.Unlock()

	kinds := make([]types.EventKind, len(d.calls))
	for i, call := range d.calls {
		kinds[i] = call.kind
	}

	return kinds
}

type logRecorder struct {
	mu      stdsync.Mutex
	entries []serverlog.ServerLog
}

func (l *logRecorder) Log(entry serverlog.ServerLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
}

type fixture struct {
	cache      *cache.Cache
	fake       *platformtest.Fake
	documents  *documentStub
	logs       *logRecorder
	dispatcher *gateway.Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		fake:      platformtest.New(),
		documents: &documentStub{},
		logs:      &logRecorder{},
	}

	f.cache = cache.New(cachetest.NewSource(), f.fake, zap.NewNop())
	t.Cleanup(f.cache.Close)

	f.dispatcher = gateway.NewDispatcher(f.cache, f.fake, f.documents, f.logs, zap.NewNop())

	return f
}

func (f *fixture) dispatch(events ...platform.Event) {
	for _, event := range events {
		f.dispatcher.Dispatch(event)
		f.dispatcher.Wait()
	}
}

func TestMembersCorrelatesChunkByNonce(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.cache.Members.Insert(types.MemberKey{GuildID: guildID, UserID: 1}, &types.Member{GuildID: guildID, UserID: 1})

	f.fake.OnRequestMembers = func(guildID uint64, userIDs []uint64, nonce string) {
		go f.dispatcher.Dispatch(&platform.MemberChunkEvent{
			GuildID:    guildID,
			Members:    []types.Member{{GuildID: guildID, UserID: 2}},
			ChunkIndex: 0,
			ChunkCount: 1,
			Nonce:      nonce,
		})
	}

	members, err := f.dispatcher.Requests().Members(context.Background(), guildID, []uint64{1, 2})
	require.NoError(t, err)

	require.Len(t, members, 2)
	assert.Equal(t, uint64(1), members[0].UserID)
	assert.Equal(t, uint64(2), members[1].UserID)

	requests := f.fake.CallsTo("RequestMembers")
	require.Len(t, requests, 1)
	assert.Equal(t, []uint64{2}, requests[0].UserIDs)
	assert.Equal(t, "1", requests[0].Nonce)
	assert.Zero(t, f.dispatcher.Requests().Pending())
	assert.False(t, f.dispatcher.Requests().Complete("1"))
}

func TestMembersWaitsForLastChunk(t *testing.T) {
	t.Parallel()

	f := setup(t)

	f.fake.OnRequestMembers = func(guildID uint64, _ []uint64, nonce string) {
		f.dispatcher.Dispatch(&platform.MemberChunkEvent{
			GuildID: guildID, Members: []types.Member{{GuildID: guildID, UserID: 2}},
			ChunkIndex: 0, ChunkCount: 2, Nonce: nonce,
		})
		f.dispatcher.Wait()
		assert.Equal(t, 1, f.dispatcher.Requests().Pending())

		f.dispatcher.Dispatch(&platform.MemberChunkEvent{
			GuildID: guildID, Members: []types.Member{{GuildID: guildID, UserID: 3}},
			ChunkIndex: 1, ChunkCount: 2, Nonce: nonce,
		})
	}

	members, err := f.dispatcher.Requests().Members(context.Background(), guildID, []uint64{2, 3})
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMembersAllCached(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.cache.Members.Insert(types.MemberKey{GuildID: guildID, UserID: 1}, &types.Member{GuildID: guildID, UserID: 1})

	members, err := f.dispatcher.Requests().Members(context.Background(), guildID, []uint64{1})
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Empty(t, f.fake.CallsTo("RequestMembers"))
}

func TestMembersTimeout(t *testing.T) {
	t.Parallel()

	f := setup(t)
	requests := gateway.NewMemberRequests(f.fake, f.cache, 50*time.Millisecond)

	_, err := requests.Members(context.Background(), guildID, []uint64{9})
	require.ErrorIs(t, err, gateway.ErrMemberRequestTimeout)
	assert.Zero(t, requests.Pending())
}

func TestGuildLifecycle(t *testing.T) {
	t.Parallel()

	f := setup(t)

	f.dispatch(&platform.GuildCreateEvent{
		Guild: types.Guild{ID: guildID, Name: "mellow"},
		Roles: []types.Role{{GuildID: guildID, ID: 10, Name: "Verified"}},
	})

	guild, ok := f.cache.Guilds.Get(guildID)
	require.True(t, ok)
	assert.Equal(t, "mellow", guild.Name)
	assert.Len(t, f.cache.GuildRoles(guildID), 1)
	assert.Empty(t, f.fake.CallsTo("GetRoles"))

	f.dispatch(
		&platform.RoleUpsertEvent{Role: types.Role{GuildID: guildID, ID: 11}},
		&platform.RoleDeleteEvent{GuildID: guildID, RoleID: 10},
		&platform.GuildUpdateEvent{Guild: types.Guild{ID: guildID, Name: "mellow cafe"}},
	)

	roles := f.cache.GuildRoles(guildID)
	require.Len(t, roles, 1)
	assert.Equal(t, uint64(11), roles[0].ID)

	guild, ok = f.cache.Guilds.Get(guildID)
	require.True(t, ok)
	assert.Equal(t, "mellow cafe", guild.Name)

	f.dispatch(&platform.GuildDeleteEvent{GuildID: guildID})

	_, ok = f.cache.Guilds.Get(guildID)
	assert.False(t, ok)
	assert.Empty(t, f.cache.GuildRoles(guildID))
}

func TestGuildCreateReplacesStaleRoles(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.cache.Roles.Insert(types.RoleKey{GuildID: guildID, RoleID: 10}, &types.Role{GuildID: guildID, ID: 10})
	f.cache.Roles.Insert(types.RoleKey{GuildID: 2, RoleID: 20}, &types.Role{GuildID: 2, ID: 20})

	// Role 10 was deleted while the gateway was disconnected
	f.dispatch(&platform.GuildCreateEvent{
		Guild: types.Guild{ID: guildID},
		Roles: []types.Role{{GuildID: guildID, ID: 12}},
	})

	roles := f.cache.GuildRoles(guildID)
	require.Len(t, roles, 1)
	assert.Equal(t, uint64(12), roles[0].ID)
	assert.Len(t, f.cache.GuildRoles(2), 1)
}

func TestMemberScreeningHeldByVerification(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.cache.Guilds.Insert(guildID, &types.Guild{ID: guildID, VerificationLevel: types.VerificationHigh})

	f.dispatch(
		&platform.MemberAddEvent{Member: types.Member{GuildID: guildID, UserID: 5, Pending: true}},
		&platform.MemberUpdateEvent{Member: types.Member{GuildID: guildID, UserID: 5}},
	)

	assert.Equal(t, 1, f.dispatcher.Onboarding().Len())
	assert.Empty(t, f.logs.entries)
	assert.Equal(t, []types.EventKind{types.EventMemberJoin, types.EventMemberUpdated}, f.documents.kinds())

	f.dispatch(&platform.MemberRemoveEvent{GuildID: guildID, UserID: 5})

	assert.Zero(t, f.dispatcher.Onboarding().Len())
	_, ok := f.cache.Members.Get(types.MemberKey{GuildID: guildID, UserID: 5})
	assert.False(t, ok)
}

func TestMemberScreeningCompletesOnboarding(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.cache.Guilds.Insert(guildID, &types.Guild{ID: guildID, OnboardingEnabled: true, VerificationLevel: types.VerificationHigh})

	f.dispatch(
		&platform.MemberAddEvent{Member: types.Member{GuildID: guildID, UserID: 5, Pending: true}},
		&platform.MemberUpdateEvent{Member: types.Member{GuildID: guildID, UserID: 5, RoleIDs: []uint64{10}}},
		&platform.MemberUpdateEvent{Member: types.Member{GuildID: guildID, UserID: 5, RoleIDs: []uint64{10, 11}}},
	)

	assert.Zero(t, f.dispatcher.Onboarding().Len())
	require.Len(t, f.logs.entries, 1)
	assert.IsType(t, &serverlog.UserCompletedOnboarding{}, f.logs.entries[0])
	assert.Equal(t, []types.EventKind{
		types.EventMemberJoin,
		types.EventMemberCompletedOnboarding,
		types.EventMemberUpdated,
		types.EventMemberUpdated,
	}, f.documents.kinds())

	member, ok := f.cache.Members.Get(types.MemberKey{GuildID: guildID, UserID: 5})
	require.True(t, ok)
	assert.Equal(t, []uint64{10, 11}, member.RoleIDs)
}

func TestMessageCreate(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.cache.Members.Insert(types.MemberKey{GuildID: guildID, UserID: 5}, &types.Member{GuildID: guildID, UserID: 5})

	f.dispatch(
		&platform.MessageCreateEvent{Message: types.Message{ID: 1, GuildID: guildID, AuthorID: 6, AuthorBot: true}},
		&platform.MessageCreateEvent{Message: types.Message{ID: 2, GuildID: 0, AuthorID: 5}},
		&platform.MessageCreateEvent{Message: types.Message{ID: 3, GuildID: guildID, ChannelID: 7, AuthorID: 5, Content: "hi"}},
	)

	require.Len(t, f.documents.calls, 1)
	call := f.documents.calls[0]
	assert.Equal(t, types.EventMessageCreated, call.kind)
	assert.Equal(t, "1", call.initial["guild_id"])
	assert.Contains(t, call.initial, "member")

	message, ok := call.initial["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "3", message["id"])
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.documents.panic = true

	assert.NotPanics(t, func() {
		f.dispatch(&platform.MemberAddEvent{Member: types.Member{GuildID: guildID, UserID: 5}})
	})

	_, ok := f.cache.Members.Get(types.MemberKey{GuildID: guildID, UserID: 5})
	assert.True(t, ok)
}
