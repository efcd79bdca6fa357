package types

import (
	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
)

// CriterionType is the discriminator of a criterion item.
type CriterionType string

const (
	CriterionHasConnection        CriterionType = "has_connection"
	CriterionRobloxGroupMember    CriterionType = "roblox_group_membership"
	CriterionRobloxGroupRole      CriterionType = "roblox_group_role"
	CriterionRobloxGroupRankRange CriterionType = "roblox_group_rank_in_range"
	CriterionPatreonCampaignTier  CriterionType = "patreon_campaign_tier_subscription"
	CriterionNestedActions        CriterionType = "mellow_server_sync_actions"
)

// QuantifierKind selects how criterion results are combined.
type QuantifierKind string

const (
	QuantifierAll     QuantifierKind = "all"
	QuantifierAtLeast QuantifierKind = "at_least"
)

// Quantifier combines criterion results. The zero value requires all.
type Quantifier struct {
	Kind  QuantifierKind `json:"kind"`
	Value int            `json:"value,omitempty"`
}

// Criteria is the list of clauses an action evaluates.
type Criteria struct {
	Items      []CriterionItem `json:"items"`
	Quantifier Quantifier      `json:"quantifier"`
}

// CriterionItem is one predicate clause. Only the fields relevant to Type are set.
type CriterionItem struct {
	Type           CriterionType       `json:"type"`
	ConnectionKind enum.ConnectionKind `json:"connection_type,omitempty"`
	GroupID        uint64              `json:"group_id,omitempty"`
	RoleID         uint64              `json:"role_id,omitempty"`
	MinRank        uint64              `json:"min_rank,omitempty"`
	MaxRank        uint64              `json:"max_rank,omitempty"`
	CampaignID     string              `json:"campaign_id,omitempty"`
	TierID         string              `json:"tier_id,omitempty"`
	ActionIDs      []uuid.UUID         `json:"action_ids,omitempty"`
	Quantifier     *Quantifier         `json:"quantifier,omitempty"`
}

// RelevantConnection returns the connection kind a criterion depends on.
func (c CriterionItem) RelevantConnection() (enum.ConnectionKind, bool) {
	switch c.Type {
	case CriterionHasConnection:
		return c.ConnectionKind, true
	case CriterionRobloxGroupMember, CriterionRobloxGroupRole, CriterionRobloxGroupRankRange:
		return enum.ConnectionKindRoblox, true
	case CriterionPatreonCampaignTier:
		return enum.ConnectionKindPatreon, true
	case CriterionNestedActions:
		return 0, false
	default:
		return 0, false
	}
}

// UsesRoblox reports whether the criterion needs game platform group data.
func (c CriterionItem) UsesRoblox() bool {
	switch c.Type {
	case CriterionRobloxGroupMember, CriterionRobloxGroupRole, CriterionRobloxGroupRankRange:
		return true
	default:
		return false
	}
}
