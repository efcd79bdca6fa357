package sync_test

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/cache/cachetest"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/platform/platformtest"
	"github.com/mellow-sync/mellow/internal/roblox"
	"github.com/mellow-sync/mellow/internal/serverlog"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guildID = uint64(1)
	userID  = uint64(5)
	ownerID = uint64(99)
	roleR   = uint64(10)
)

type robloxStub struct {
	mu    stdsync.Mutex
	roles map[string][]roblox.GroupRole
	calls int
}

func (r *robloxStub) UserGroupRoles(_ context.Context, subject string) ([]roblox.GroupRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++

	return r.roles[subject], nil
}

type pledgeStub struct {
	pledges []patreon.Pledge
	err     error
}

func (p *pledgeStub) UserMemberships(context.Context, *types.Connection) ([]patreon.Pledge, error) {
	return p.pledges, p.err
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

func (l *logRecorder) Entries() []serverlog.ServerLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]serverlog.ServerLog(nil), l.entries...)
}

type runnerCall struct {
	document *types.Document
	member   *types.Member
	extra    map[string]any
}

type runnerStub struct {
	mu    stdsync.Mutex
	calls []runnerCall
}

func (r *runnerStub) RunMemberDocument(_ context.Context, document *types.Document, member *types.Member, extra map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, runnerCall{document: document, member: member, extra: extra})
}

func (r *runnerStub) Calls() []runnerCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]runnerCall(nil), r.calls...)
}

type fixture struct {
	source  *cachetest.Source
	fake    *platformtest.Fake
	roblox  *robloxStub
	pledges *pledgeStub
	logs    *logRecorder
	runner  *runnerStub
	service *memberSync.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		source:  cachetest.NewSource(),
		fake:    platformtest.New(),
		roblox:  &robloxStub{roles: make(map[string][]roblox.GroupRole)},
		pledges: &pledgeStub{},
		logs:    &logRecorder{},
		runner:  &runnerStub{},
	}

	c := cache.New(f.source, f.fake, zap.NewNop())
	t.Cleanup(c.Close)

	f.service = memberSync.NewService(c, f.fake, f.roblox, f.pledges, f.logs, zap.NewNop())
	f.service.SetDocumentRunner(f.runner)

	f.fake.AddGuild(&types.Guild{ID: guildID, OwnerID: ownerID},
		&types.Role{GuildID: guildID, ID: roleR},
		&types.Role{GuildID: guildID, ID: 20},
		&types.Role{GuildID: guildID, ID: 30},
	)

	return f
}

func (f *fixture) addMember(roles ...uint64) {
	f.fake.AddMember(&types.Member{GuildID: guildID, UserID: userID, DisplayName: "kai", RoleIDs: roles})
}

func (f *fixture) addUser(connections ...*types.Connection) *types.User {
	user := &types.User{ID: uuid.New()}
	f.source.AddUser(guildID, userID, user, connections...)

	return user
}

func (f *fixture) sync(t *testing.T) *memberSync.Result {
	t.Helper()

	result, err := f.service.SyncAndLog(context.Background(), memberSync.Request{GuildID: guildID, UserID: userID})
	require.NoError(t, err)

	return result
}

func ptr[T any](v T) *T {
	return &v
}

func robloxConnection(sub string) *types.Connection {
	return &types.Connection{
		ID:          uuid.New(),
		Kind:        enum.ConnectionKindRoblox,
		Sub:         sub,
		Username:    ptr("builder_" + sub),
		DisplayName: ptr("Builder " + sub),
	}
}

func assignRoles(roleIDs []string, canRemove bool, items ...types.CriterionItem) *types.SyncAction {
	return &types.SyncAction{
		ID:          uuid.New(),
		DisplayName: "roles",
		Kind:        enum.ActionKindAssignRoles,
		Criteria:    types.Criteria{Items: items},
		Metadata:    types.ActionMetadata{RoleIDs: roleIDs, CanRemove: canRemove},
	}
}

func hasRoblox() types.CriterionItem {
	return types.CriterionItem{Type: types.CriterionHasConnection, ConnectionKind: enum.ConnectionKindRoblox}
}

func TestSyncAddsRole(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, true, hasRoblox()))
	f.addMember()
	f.addUser(robloxConnection("123"))

	result := f.sync(t)

	assert.Equal(t, []types.RoleChange{{Kind: types.RoleAdded, RoleID: roleR}}, result.RoleChanges)
	assert.True(t, result.ProfileChanged)
	assert.Nil(t, result.NicknameChange)
	assert.False(t, result.IsMissingConnections)

	updates := f.fake.CallsTo("UpdateMember")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Update.RoleIDs)
	assert.Equal(t, []uint64{roleR}, *updates[0].Update.RoleIDs)
	assert.Nil(t, updates[0].Update.Nick)

	entries := f.logs.Entries()
	require.Len(t, entries, 1)
	assert.IsType(t, &serverlog.ServerProfileSync{}, entries[0])

	// A second run with unchanged inputs changes nothing
	again := f.sync(t)
	assert.False(t, again.ProfileChanged)
	assert.Empty(t, again.RoleChanges)
	assert.Len(t, f.fake.CallsTo("UpdateMember"), 1)
	assert.Len(t, f.logs.Entries(), 1)
}

func TestSyncRemovesRoleWhenCriteriaLapse(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, true, hasRoblox()))
	f.addMember(roleR, 77)
	f.addUser()

	result := f.sync(t)

	assert.Equal(t, []types.RoleChange{{Kind: types.RoleRemoved, RoleID: roleR}}, result.RoleChanges)
	assert.True(t, result.ProfileChanged)
	assert.True(t, result.IsMissingConnections)

	stored, ok := f.fake.StoredMember(guildID, userID)
	require.True(t, ok)
	assert.Equal(t, []uint64{77}, stored.RoleIDs)
}

func TestSyncKeepsRoleWithoutCanRemove(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, false, hasRoblox()))
	f.addMember(roleR)
	f.addUser()

	result := f.sync(t)

	assert.Empty(t, result.RoleChanges)
	assert.False(t, result.ProfileChanged)
	assert.Empty(t, f.fake.CallsTo("UpdateMember"))
}

func TestSyncSkipsRolesMissingFromGuild(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10", "555"}, true, hasRoblox()))
	f.addMember()
	f.addUser(robloxConnection("123"))

	result := f.sync(t)

	assert.Equal(t, []types.RoleChange{{Kind: types.RoleAdded, RoleID: roleR}}, result.RoleChanges)

	updates := f.fake.CallsTo("UpdateMember")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Update.RoleIDs)
	assert.Equal(t, []uint64{roleR}, *updates[0].Update.RoleIDs)

	// Guild roles are fetched once and served from the cache afterwards
	again := f.sync(t)
	assert.Empty(t, again.RoleChanges)
	assert.Len(t, f.fake.CallsTo("GetRoles"), 1)
}

func TestSyncHeldRolesMissingFromGuild(t *testing.T) {
	t.Parallel()

	t.Run("kept while criteria hold", func(t *testing.T) {
		t.Parallel()

		f := setup(t)
		f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10", "555"}, true, hasRoblox()))
		f.addMember(555)
		f.addUser(robloxConnection("123"))

		result := f.sync(t)

		assert.Equal(t, []types.RoleChange{{Kind: types.RoleAdded, RoleID: roleR}}, result.RoleChanges)

		stored, ok := f.fake.StoredMember(guildID, userID)
		require.True(t, ok)
		assert.ElementsMatch(t, []uint64{555, roleR}, stored.RoleIDs)
	})

	t.Run("removed when criteria lapse", func(t *testing.T) {
		t.Parallel()

		f := setup(t)
		f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10", "555"}, true, hasRoblox()))
		f.addMember(555, 77)
		f.addUser()

		result := f.sync(t)

		assert.Equal(t, []types.RoleChange{{Kind: types.RoleRemoved, RoleID: 555}}, result.RoleChanges)

		stored, ok := f.fake.StoredMember(guildID, userID)
		require.True(t, ok)
		assert.Equal(t, []uint64{77}, stored.RoleIDs)
	})
}

func TestSyncCancelShortCircuits(t *testing.T) {
	t.Parallel()

	f := setup(t)

	cancel := &types.SyncAction{
		ID:       uuid.New(),
		Kind:     enum.ActionKindCancelSync,
		Criteria: types.Criteria{Items: []types.CriterionItem{hasRoblox()}},
	}

	f.source.AddServer(&types.Server{ID: guildID, DefaultNickname: ptr(memberSync.NicknameRobloxUsername)},
		cancel, assignRoles([]string{"20"}, true))
	f.addMember()
	f.addUser(robloxConnection("123"))

	result := f.sync(t)

	assert.Empty(t, result.RoleChanges)
	assert.Nil(t, result.NicknameChange)
	assert.False(t, result.ProfileChanged)
	assert.Empty(t, f.fake.CallsTo("UpdateMember"))
	assert.Empty(t, f.logs.Entries())
}

func TestSyncBanStopsActions(t *testing.T) {
	t.Parallel()

	f := setup(t)

	ban := &types.SyncAction{
		ID:          uuid.New(),
		DisplayName: "No alts",
		Kind:        enum.ActionKindBanMember,
		Criteria: types.Criteria{Items: []types.CriterionItem{
			{Type: types.CriterionHasConnection, ConnectionKind: enum.ConnectionKindGitHub},
		}},
		Metadata: types.ActionMetadata{Reason: ptr("suspicious account")},
	}

	f.source.AddServer(&types.Server{ID: guildID}, ban, assignRoles([]string{"20"}, true))
	f.addMember()
	f.addUser(&types.Connection{ID: uuid.New(), Kind: enum.ConnectionKindGitHub, Sub: "gh"})

	result := f.sync(t)

	assert.Equal(t, types.MemberStatusBanned, result.MemberStatus)
	assert.False(t, result.ProfileChanged)

	bans := f.fake.CallsTo("BanMember")
	require.Len(t, bans, 1)
	assert.Equal(t, "Met criteria of No alts - suspicious account", bans[0].Reason)
	assert.Empty(t, f.fake.CallsTo("UpdateMember"))
}

func TestSyncNickname(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		memberID uint64
		nick     *string
		want     *string
	}{
		{name: "username", template: memberSync.NicknameRobloxUsername, memberID: userID, want: ptr("builder_123")},
		{name: "display name", template: memberSync.NicknameRobloxDisplayName, memberID: userID, want: ptr("Builder 123")},
		{name: "already set", template: memberSync.NicknameRobloxUsername, memberID: userID, nick: ptr("builder_123")},
		{name: "unknown template", template: "{github}", memberID: userID},
		{name: "guild owner", template: memberSync.NicknameRobloxUsername, memberID: ownerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setup(t)
			f.source.AddServer(&types.Server{ID: guildID, DefaultNickname: ptr(tt.template)})
			f.fake.AddMember(&types.Member{GuildID: guildID, UserID: tt.memberID, Nick: tt.nick})
			f.source.AddUser(guildID, tt.memberID, &types.User{ID: uuid.New()}, robloxConnection("123"))

			result, err := f.service.SyncAndLog(context.Background(), memberSync.Request{GuildID: guildID, UserID: tt.memberID})
			require.NoError(t, err)

			if tt.want == nil {
				assert.Nil(t, result.NicknameChange)
				assert.False(t, result.ProfileChanged)

				return
			}

			require.NotNil(t, result.NicknameChange)
			assert.Equal(t, tt.want, result.NicknameChange.New)
			assert.Equal(t, tt.nick, result.NicknameChange.Old)

			updates := f.fake.CallsTo("UpdateMember")
			require.Len(t, updates, 1)
			assert.Nil(t, updates[0].Update.RoleIDs)
			assert.Equal(t, tt.want, updates[0].Update.Nick)
		})
	}
}

func TestSyncRobloxCriteria(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		item types.CriterionItem
		want bool
	}{
		{name: "group member", item: types.CriterionItem{Type: types.CriterionRobloxGroupMember, GroupID: 7}, want: true},
		{name: "not in group", item: types.CriterionItem{Type: types.CriterionRobloxGroupMember, GroupID: 8}},
		{name: "group role", item: types.CriterionItem{Type: types.CriterionRobloxGroupRole, GroupID: 7, RoleID: 70}, want: true},
		{name: "other role", item: types.CriterionItem{Type: types.CriterionRobloxGroupRole, GroupID: 7, RoleID: 71}},
		{
			name: "rank in range",
			item: types.CriterionItem{Type: types.CriterionRobloxGroupRankRange, GroupID: 7, MinRank: 10, MaxRank: 200},
			want: true,
		},
		{
			name: "rank out of range",
			item: types.CriterionItem{Type: types.CriterionRobloxGroupRankRange, GroupID: 7, MinRank: 101, MaxRank: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setup(t)
			f.roblox.roles["123"] = []roblox.GroupRole{{GroupID: 7, RoleID: 70, RoleName: "Member", Rank: 100}}

			conn := robloxConnection("123")
			f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, true, tt.item))
			f.addMember()
			f.addUser(conn)

			result := f.sync(t)

			assert.Equal(t, tt.want, result.ProfileChanged)
			assert.Equal(t, 1, f.roblox.calls)
			require.Len(t, result.RelevantConnections, 1)
			assert.Equal(t, conn.ID, result.RelevantConnections[0].ID)
		})
	}
}

func TestSyncPatreonTier(t *testing.T) {
	t.Parallel()

	item := types.CriterionItem{Type: types.CriterionPatreonCampaignTier, CampaignID: "c1", TierID: "t2"}

	tests := []struct {
		name   string
		pledge patreon.Pledge
		want   bool
	}{
		{name: "active with tier", pledge: patreon.Pledge{Active: true, UserID: "p1", CampaignID: "c1", TierIDs: []string{"t1", "t2"}}, want: true},
		{name: "inactive", pledge: patreon.Pledge{UserID: "p1", CampaignID: "c1", TierIDs: []string{"t2"}}},
		{name: "other campaign", pledge: patreon.Pledge{Active: true, UserID: "p1", CampaignID: "c2", TierIDs: []string{"t2"}}},
		{name: "other user", pledge: patreon.Pledge{Active: true, UserID: "p9", CampaignID: "c1", TierIDs: []string{"t2"}}},
		{name: "missing tier", pledge: patreon.Pledge{Active: true, UserID: "p1", CampaignID: "c1", TierIDs: []string{"t1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setup(t)
			f.pledges.pledges = []patreon.Pledge{tt.pledge}
			f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, true, item))
			f.addMember()
			f.addUser(&types.Connection{ID: uuid.New(), Kind: enum.ConnectionKindPatreon, Sub: "p1"})

			result := f.sync(t)

			assert.Equal(t, tt.want, result.ProfileChanged)
			assert.Len(t, result.RelevantConnections, 1)
			assert.Zero(t, f.roblox.calls)
		})
	}
}

func TestSyncPatreonErrorAbortsRun(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.pledges.err = &patreon.ConnectionInvalidError{Kind: enum.ConnectionKindPatreon}
	f.source.AddServer(&types.Server{ID: guildID},
		assignRoles([]string{"10"}, true, types.CriterionItem{Type: types.CriterionPatreonCampaignTier, CampaignID: "c", TierID: "t"}))
	f.addMember()
	f.addUser(&types.Connection{ID: uuid.New(), Kind: enum.ConnectionKindPatreon, Sub: "p1"})

	_, err := f.service.SyncAndLog(context.Background(), memberSync.Request{GuildID: guildID, UserID: userID})

	var invalid *patreon.ConnectionInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Empty(t, f.fake.CallsTo("UpdateMember"))
}

func TestSyncQuantifiersAndNestedActions(t *testing.T) {
	t.Parallel()

	github := types.CriterionItem{Type: types.CriterionHasConnection, ConnectionKind: enum.ConnectionKindGitHub}
	youtube := types.CriterionItem{Type: types.CriterionHasConnection, ConnectionKind: enum.ConnectionKindYouTube}

	t.Run("at least", func(t *testing.T) {
		t.Parallel()

		f := setup(t)
		action := assignRoles([]string{"10"}, true, hasRoblox(), github, youtube)
		action.Criteria.Quantifier = types.Quantifier{Kind: types.QuantifierAtLeast, Value: 2}

		f.source.AddServer(&types.Server{ID: guildID}, action)
		f.addMember()
		f.addUser(robloxConnection("1"), &types.Connection{ID: uuid.New(), Kind: enum.ConnectionKindYouTube, Sub: "yt"})

		assert.True(t, f.sync(t).ProfileChanged)
	})

	t.Run("all", func(t *testing.T) {
		t.Parallel()

		f := setup(t)
		f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, true, hasRoblox(), github))
		f.addMember()
		f.addUser(robloxConnection("1"))

		assert.False(t, f.sync(t).ProfileChanged)
	})

	t.Run("nested", func(t *testing.T) {
		t.Parallel()

		f := setup(t)
		base := assignRoles([]string{"30"}, true, hasRoblox())
		nested := assignRoles([]string{"10"}, true, types.CriterionItem{
			Type:      types.CriterionNestedActions,
			ActionIDs: []uuid.UUID{base.ID},
		})

		f.source.AddServer(&types.Server{ID: guildID}, base, nested)
		f.addMember()
		f.addUser(robloxConnection("1"))

		result := f.sync(t)
		assert.ElementsMatch(t, []types.RoleChange{
			{Kind: types.RoleAdded, RoleID: 30},
			{Kind: types.RoleAdded, RoleID: 10},
		}, result.RoleChanges)
	})

	t.Run("cycle resolves to false", func(t *testing.T) {
		t.Parallel()

		f := setup(t)
		action := assignRoles([]string{"10"}, true)
		action.Criteria.Items = []types.CriterionItem{{
			Type:      types.CriterionNestedActions,
			ActionIDs: []uuid.UUID{action.ID},
		}}

		f.source.AddServer(&types.Server{ID: guildID}, action)
		f.addMember()
		f.addUser()

		assert.False(t, f.sync(t).ProfileChanged)
	})
}

func TestSyncUnregisteredMember(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{ID: guildID}, assignRoles([]string{"10"}, true, hasRoblox()))
	f.addMember(roleR)

	_, err := f.service.SyncAndLog(context.Background(), memberSync.Request{GuildID: guildID, UserID: userID})
	require.ErrorIs(t, err, types.ErrUserNotFound)

	result, err := f.service.SyncAndLog(context.Background(), memberSync.Request{
		GuildID: guildID, UserID: userID, AllowUnregistered: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []types.RoleChange{{Kind: types.RoleRemoved, RoleID: roleR}}, result.RoleChanges)
	assert.True(t, result.IsMissingConnections)
}

func TestSyncUnknownServer(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addMember()

	_, err := f.service.SyncAndLog(context.Background(), memberSync.Request{GuildID: guildID, UserID: userID})
	require.ErrorIs(t, err, types.ErrServerNotFound)
}

func TestSyncRunsDocuments(t *testing.T) {
	t.Parallel()

	f := setup(t)

	executed := &types.Document{
		ID:         uuid.New(),
		ServerID:   guildID,
		Kind:       types.EventMemberJoin,
		Active:     true,
		Definition: []types.Element{{Kind: types.ElementNothing}},
	}
	synced := &types.Document{
		ID:         uuid.New(),
		ServerID:   guildID,
		Kind:       types.EventMemberSynced,
		Active:     true,
		Definition: []types.Element{{Kind: types.ElementNothing}},
	}

	f.source.AddDocument(executed)
	f.source.AddDocument(synced)

	execute := &types.SyncAction{
		ID:       uuid.New(),
		Kind:     enum.ActionKindExecuteDocument,
		Metadata: types.ActionMetadata{DocumentID: &executed.ID},
	}

	f.source.AddServer(&types.Server{ID: guildID}, execute, assignRoles([]string{"10"}, true, hasRoblox()))
	f.addMember()
	f.addUser(robloxConnection("1"))

	f.sync(t)
	f.service.Wait()

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, executed.ID, calls[0].document.ID)
	assert.Equal(t, synced.ID, calls[1].document.ID)
	assert.Equal(t, []uint64{roleR}, calls[1].member.RoleIDs)
	assert.Equal(t, map[string]any{
		"added":   []string{"10"},
		"removed": []string{},
	}, calls[1].extra["role_changes"])
}

func TestGetConnectionMetadataSkipsUnusedProviders(t *testing.T) {
	t.Parallel()

	f := setup(t)
	server := &types.Server{ID: guildID}
	f.source.AddServer(server, assignRoles([]string{"10"}, true, hasRoblox()))

	users := []*types.User{{ID: uuid.New(), Connections: []*types.Connection{robloxConnection("1")}}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	metadata, err := f.service.GetConnectionMetadata(ctx, users, server)
	require.NoError(t, err)
	assert.Empty(t, metadata.RobloxMemberships)
	assert.Empty(t, metadata.PatreonPledges)
	assert.Zero(t, f.roblox.calls)
}
