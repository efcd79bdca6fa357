package visual_test

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/cache/cachetest"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/platform/platformtest"
	"github.com/mellow-sync/mellow/internal/serverlog"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/mellow-sync/mellow/internal/visual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guildID   = uint64(1)
	channelID = uint64(300)
)

type syncerStub struct {
	requests []memberSync.Request
}

func (s *syncerStub) SyncAndLog(_ context.Context, req memberSync.Request) (*memberSync.Result, error) {
	s.requests = append(s.requests, req)
	return &memberSync.Result{ServerID: req.GuildID}, nil
}

type campaignStub struct {
	campaign *patreon.Campaign
}

func (c *campaignStub) Campaign(context.Context, *types.OAuthAuthorisation) (*patreon.Campaign, error) {
	return c.campaign, nil
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
	source    *cachetest.Source
	fake      *platformtest.Fake
	syncer    *syncerStub
	logs      *logRecorder
	processor *visual.Processor
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		source: cachetest.NewSource(),
		fake:   platformtest.New(),
		syncer: &syncerStub{},
		logs:   &logRecorder{},
	}

	c := cache.New(f.source, f.fake, zap.NewNop())
	t.Cleanup(c.Close)

	campaigns := &campaignStub{campaign: &patreon.Campaign{
		ID:    "c1",
		Tiers: []patreon.Tier{{ID: "t1", PatronCount: 12}},
	}}

	f.processor = visual.NewProcessor(f.fake, c, f.syncer, campaigns, f.logs, zap.NewNop())

	return f
}

func document(definition ...types.Element) *types.Document {
	return &types.Document{
		ID:         uuid.New(),
		ServerID:   guildID,
		Name:       "test",
		Kind:       types.EventMemberJoin,
		Active:     true,
		Definition: definition,
	}
}

func memberVariables(roles ...uint64) *visual.Variables {
	return visual.NewVariables(visual.MemberEnvironment(&types.Member{
		GuildID: guildID, UserID: 5, DisplayName: "kai", RoleIDs: roles,
	}))
}

func ifRoles(condition types.ConditionKind, match any, items ...types.Element) types.Element {
	return types.Element{
		Kind: types.ElementIfStatement,
		Blocks: []types.StatementBlock{{
			Conditions: []types.StatementCondition{{
				Combinator: types.CombinatorInitial,
				Condition:  condition,
				InputA:     types.Operand{Variable: "member.roles"},
				InputB:     &types.Operand{Value: match},
			}},
			Items: items,
		}},
	}
}

func createMessage(content types.Text) types.Element {
	return types.Element{Kind: types.ElementCreateMessage, ChannelID: "300", Content: content}
}

func TestIfStatementRunsMatchingBlock(t *testing.T) {
	t.Parallel()

	f := setup(t)
	doc := document(ifRoles(types.ConditionContains, "42", createMessage(types.Literal("hi"))))

	items := f.processor.Process(context.Background(), doc, memberVariables(42))

	calls := f.fake.CallsTo("CreateMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, channelID, calls[0].ChannelID)
	assert.Equal(t, "hi", calls[0].Content)

	require.Len(t, items, 1)
	assert.Equal(t, serverlog.TrackerCreatedMessage, items[0].Kind)
	assert.Equal(t, channelID, items[0].ChannelID)

	require.Len(t, f.logs.entries, 1)
	trace, ok := f.logs.entries[0].(*serverlog.VisualScriptingProcessorTrace)
	require.True(t, ok)
	assert.Equal(t, doc.ID, trace.DocumentID)
	require.NotNil(t, trace.UserID)
	assert.Equal(t, uint64(5), *trace.UserID)
}

func TestIfStatementSkipsWhenNoBlockMatches(t *testing.T) {
	t.Parallel()

	f := setup(t)
	doc := document(ifRoles(types.ConditionContains, "42", createMessage(types.Literal("hi"))))

	items := f.processor.Process(context.Background(), doc, memberVariables(7))

	assert.Empty(t, items)
	assert.Empty(t, f.fake.CallsTo("CreateMessage"))
	assert.Empty(t, f.logs.entries)
}

func TestElseBlock(t *testing.T) {
	t.Parallel()

	f := setup(t)

	statement := ifRoles(types.ConditionContains, "42", createMessage(types.Literal("member")))
	statement.Blocks = append(statement.Blocks, types.StatementBlock{
		Items: []types.Element{createMessage(types.Literal("guest"))},
	})

	f.processor.Process(context.Background(), document(statement), memberVariables())

	calls := f.fake.CallsTo("CreateMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "guest", calls[0].Content)
}

func TestElementFailureEndsRun(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.fake.FailOn("AddRole", errors.New("missing permissions"))

	doc := document(
		types.Element{Kind: types.ElementComment},
		types.Element{Kind: types.ElementAssignRole, RoleID: "10"},
		createMessage(types.Literal("never sent")),
	)

	items := f.processor.Process(context.Background(), doc, memberVariables())

	require.Len(t, items, 1)
	assert.Equal(t, serverlog.TrackerError, items[0].Kind)
	assert.Equal(t, string(types.ElementAssignRole), items[0].Element)
	require.Error(t, items[0].Err)
	assert.Empty(t, f.fake.CallsTo("CreateMessage"))
	assert.Len(t, f.logs.entries, 1)
}

func TestInvalidRoleIsRecorded(t *testing.T) {
	t.Parallel()

	f := setup(t)
	items := f.processor.Process(context.Background(),
		document(types.Element{Kind: types.ElementRemoveRole, RoleID: "abc"}), memberVariables())

	require.Len(t, items, 1)
	require.ErrorIs(t, items[0].Err, visual.ErrInvalidID)
}

func TestBanStopsRun(t *testing.T) {
	t.Parallel()

	f := setup(t)
	doc := document(
		types.Element{Kind: types.ElementBanMember, Content: types.Text{{Value: "bye "}, {Variable: "member.display_name"}}},
		createMessage(types.Literal("after ban")),
	)

	items := f.processor.Process(context.Background(), doc, memberVariables())

	bans := f.fake.CallsTo("BanMember")
	require.Len(t, bans, 1)
	assert.Equal(t, "bye kai", bans[0].Reason)
	assert.Equal(t, uint64(5), bans[0].UserID)

	require.Len(t, items, 1)
	assert.Equal(t, serverlog.TrackerBannedMember, items[0].Kind)
	assert.Empty(t, f.fake.CallsTo("CreateMessage"))
}

func TestMissingVariablesSkipElements(t *testing.T) {
	t.Parallel()

	f := setup(t)
	doc := document(
		types.Element{Kind: types.ElementReply, Content: types.Literal("pong")},
		types.Element{Kind: types.ElementInteractionReply, Content: types.Literal("done")},
		types.Element{Kind: types.ElementSyncMember},
	)

	items := f.processor.Process(context.Background(), doc, visual.NewVariables(nil))

	assert.Empty(t, items)
	assert.Empty(t, f.fake.Calls())
	assert.Empty(t, f.syncer.requests)
}

func TestMessageElements(t *testing.T) {
	t.Parallel()

	f := setup(t)
	vars := visual.NewVariables(map[string]any{
		"guild_id": "1",
		"message": visual.MessageVariables(&types.Message{
			ID: 900, ChannelID: channelID, AuthorID: 5, AuthorName: "kai", Content: "!ping",
		}),
	})

	doc := document(
		types.Element{
			Kind: types.ElementIfStatement,
			Blocks: []types.StatementBlock{{
				Conditions: []types.StatementCondition{{
					Condition: types.ConditionBeginsWith,
					InputA:    types.Operand{Variable: "message.content"},
					InputB:    &types.Operand{Value: "!ping"},
				}},
				Items: []types.Element{
					{Kind: types.ElementReply, Content: types.Text{{Value: "pong "}, {Variable: "message.author.username"}}},
					{Kind: types.ElementAddReaction, Content: types.Literal("👍")},
					{Kind: types.ElementStartThread, Content: types.Literal("ping thread")},
					{Kind: types.ElementDeleteMessage},
				},
			}},
		},
	)

	items := f.processor.Process(context.Background(), doc, vars)

	replies := f.fake.CallsTo("Reply")
	require.Len(t, replies, 1)
	assert.Equal(t, "pong kai", replies[0].Content)
	assert.Equal(t, uint64(900), replies[0].MessageID)

	assert.Len(t, f.fake.CallsTo("AddReaction"), 1)
	assert.Len(t, f.fake.CallsTo("StartThread"), 1)
	assert.Len(t, f.fake.CallsTo("DeleteMessage"), 1)

	kinds := make([]serverlog.TrackerKind, len(items))
	for i, item := range items {
		kinds[i] = item.Kind
	}

	assert.Equal(t, []serverlog.TrackerKind{
		serverlog.TrackerReplied,
		serverlog.TrackerAddedReaction,
		serverlog.TrackerStartedThread,
		serverlog.TrackerDeletedMessage,
	}, kinds)
}

func TestSyncMemberAndInteractionReply(t *testing.T) {
	t.Parallel()

	f := setup(t)
	vars := memberVariables()
	vars.Set("interaction_token", "token-1")

	doc := document(
		types.Element{Kind: types.ElementSyncMember},
		types.Element{Kind: types.ElementInteractionReply, Content: types.Literal("synced")},
	)

	items := f.processor.Process(context.Background(), doc, vars)

	require.Len(t, f.syncer.requests, 1)
	assert.Equal(t, memberSync.Request{GuildID: guildID, UserID: 5, AllowUnregistered: true}, f.syncer.requests[0])

	followups := f.fake.CallsTo("CreateFollowup")
	require.Len(t, followups, 1)
	assert.Equal(t, "token-1", followups[0].Token)
	assert.Equal(t, "synced", followups[0].Content)
	assert.Len(t, items, 2)
}

func TestLinkedCampaignIsVisibleToLaterElements(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{
		ID:             guildID,
		Authorisations: []*types.OAuthAuthorisation{{ID: 1, AccessToken: "server-token"}},
	})

	doc := document(
		types.Element{Kind: types.ElementGetLinkedCampaign},
		types.Element{
			Kind: types.ElementIfStatement,
			Blocks: []types.StatementBlock{{
				Conditions: []types.StatementCondition{{
					Condition: types.ConditionIs,
					InputA:    types.Operand{Variable: "campaign.tiers.0.patron_count"},
					InputB:    &types.Operand{Value: float64(12)},
				}},
				Items: []types.Element{createMessage(types.Text{
					{Value: "patrons: "}, {Variable: "campaign.tiers.0.patron_count"},
				})},
			}},
		},
	)

	f.processor.Process(context.Background(), doc, memberVariables())

	calls := f.fake.CallsTo("CreateMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "patrons: 12", calls[0].Content)
}

func TestLinkedCampaignWithoutGrant(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.source.AddServer(&types.Server{ID: guildID})

	items := f.processor.Process(context.Background(),
		document(types.Element{Kind: types.ElementGetLinkedCampaign}), memberVariables())

	require.Len(t, items, 1)
	require.ErrorIs(t, items[0].Err, visual.ErrNoLinkedCampaign)
}

func TestRunEventUsesReadyDocument(t *testing.T) {
	t.Parallel()

	f := setup(t)

	inactive := document(createMessage(types.Literal("inactive")))
	inactive.Active = false
	inactive.Kind = types.EventMessageCreated

	ready := document(createMessage(types.Literal("ready")))
	ready.Kind = types.EventMessageCreated

	f.source.AddDocument(inactive)
	f.source.AddDocument(ready)

	require.NoError(t, f.processor.RunEvent(context.Background(), guildID, types.EventMessageCreated, nil))
	require.NoError(t, f.processor.RunEvent(context.Background(), guildID, types.EventMemberJoin, nil))

	calls := f.fake.CallsTo("CreateMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "ready", calls[0].Content)
}
