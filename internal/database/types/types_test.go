package types_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/stretchr/testify/assert"
)

func TestDocumentIsReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  *types.Document
		want bool
	}{
		{name: "nil document", doc: nil, want: false},
		{name: "inactive", doc: &types.Document{Definition: []types.Element{{Kind: types.ElementNothing}}}, want: false},
		{name: "empty definition", doc: &types.Document{Active: true}, want: false},
		{name: "ready", doc: &types.Document{Active: true, Definition: []types.Element{{Kind: types.ElementNothing}}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.doc.IsReady())
		})
	}
}

func TestTextResolve(t *testing.T) {
	t.Parallel()

	text := types.Text{{Value: "hello "}, {Variable: "member.username"}, {Value: "!"}, {Variable: "missing"}}
	got := text.Resolve(func(path string) (string, bool) {
		if path == "member.username" {
			return "builderman", true
		}

		return "", false
	})

	assert.Equal(t, "hello builderman!", got)
}

func TestRelevantConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		item   types.CriterionItem
		want   enum.ConnectionKind
		wantOK bool
	}{
		{name: "has connection", item: types.CriterionItem{Type: types.CriterionHasConnection, ConnectionKind: enum.ConnectionKindGitHub}, want: enum.ConnectionKindGitHub, wantOK: true},
		{name: "group rank", item: types.CriterionItem{Type: types.CriterionRobloxGroupRankRange}, want: enum.ConnectionKindRoblox, wantOK: true},
		{name: "patreon tier", item: types.CriterionItem{Type: types.CriterionPatreonCampaignTier}, want: enum.ConnectionKindPatreon, wantOK: true},
		{name: "nested actions", item: types.CriterionItem{Type: types.CriterionNestedActions}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			kind, ok := tt.item.RelevantConnection()
			assert.Equal(t, tt.wantOK, ok)

			if tt.wantOK {
				assert.Equal(t, tt.want, kind)
			}
		})
	}
}

func TestSyncActionRoles(t *testing.T) {
	t.Parallel()

	action := &types.SyncAction{Metadata: types.ActionMetadata{RoleIDs: []string{"10", "bad", "20"}}}
	assert.Equal(t, []uint64{10, 20}, action.Roles())
}

func TestLogTypesHas(t *testing.T) {
	t.Parallel()

	mask := types.LogTypeAuditLogs | types.LogTypeVisualScriptingDocumentTrace
	assert.True(t, mask.Has(types.LogTypeAuditLogs))
	assert.False(t, mask.Has(types.LogTypeServerProfileSync))
}

func TestUserServerSettingsAllows(t *testing.T) {
	t.Parallel()

	visible := uuid.New()
	settings := &types.UserServerSettings{ConnectionIDs: []uuid.UUID{visible}}

	assert.True(t, settings.Allows(visible))
	assert.False(t, settings.Allows(uuid.New()))

	var empty *types.UserServerSettings
	assert.False(t, empty.Allows(visible))
}

func TestAuthorisationIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	grant := &types.OAuthAuthorisation{ExpiresAt: now.Add(-time.Second)}
	assert.True(t, grant.IsExpired(now))

	grant.ExpiresAt = now.Add(time.Hour)
	assert.False(t, grant.IsExpired(now))
}
