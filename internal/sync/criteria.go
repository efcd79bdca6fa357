package sync

import (
	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
)

type criterionKey struct {
	actionID uuid.UUID
	index    int
}

// evaluator decides whether actions are met for one member during one run.
// Results are memoized per criterion, which also resolves nested action
// cycles to false.
type evaluator struct {
	user     *types.User
	metadata *ConnectionMetadata
	actions  *actionSet

	memo map[criterionKey]bool
	used []*types.Connection
}

func newEvaluator(user *types.User, metadata *ConnectionMetadata, actions *actionSet) *evaluator {
	if metadata == nil {
		metadata = &ConnectionMetadata{}
	}

	return &evaluator{
		user:     user,
		metadata: metadata,
		actions:  actions,
		memo:     make(map[criterionKey]bool),
	}
}

// isMet evaluates the criteria of an action with its quantifier.
func (e *evaluator) isMet(action *types.SyncAction) bool {
	quantifier := action.Criteria.Quantifier

	return combine(quantifier, len(action.Criteria.Items), func(i int) bool {
		key := criterionKey{actionID: action.ID, index: i}
		if met, ok := e.memo[key]; ok {
			return met
		}

		e.memo[key] = false
		met := e.evaluate(action.Criteria.Items[i])
		e.memo[key] = met

		return met
	})
}

// combine applies a quantifier to n lazily evaluated results.
func combine(quantifier types.Quantifier, n int, result func(i int) bool) bool {
	if quantifier.Kind == types.QuantifierAtLeast {
		if quantifier.Value <= 0 {
			return true
		}

		met := 0
		for i := range n {
			if result(i) {
				met++
				if met >= quantifier.Value {
					return true
				}
			}
		}

		return false
	}

	for i := range n {
		if !result(i) {
			return false
		}
	}

	return true
}

func (e *evaluator) evaluate(item types.CriterionItem) bool {
	switch item.Type {
	case types.CriterionHasConnection:
		return e.user.Connection(item.ConnectionKind) != nil

	case types.CriterionPatreonCampaignTier:
		conn := e.use(enum.ConnectionKindPatreon)
		if conn == nil {
			return false
		}

		for _, pledge := range e.metadata.PatreonPledges {
			if pledge.Active && pledge.UserID == conn.Sub &&
				pledge.CampaignID == item.CampaignID && pledge.HasTier(item.TierID) {
				return true
			}
		}

		return false

	case types.CriterionRobloxGroupMember, types.CriterionRobloxGroupRole, types.CriterionRobloxGroupRankRange:
		conn := e.use(enum.ConnectionKindRoblox)
		if conn == nil {
			return false
		}

		for _, membership := range e.metadata.RobloxMemberships[conn.Sub] {
			if membership.GroupID != item.GroupID {
				continue
			}

			switch item.Type {
			case types.CriterionRobloxGroupRole:
				if membership.RoleID == item.RoleID {
					return true
				}
			case types.CriterionRobloxGroupRankRange:
				if membership.Rank >= item.MinRank && membership.Rank <= item.MaxRank {
					return true
				}
			default:
				return true
			}
		}

		return false

	case types.CriterionNestedActions:
		quantifier := types.Quantifier{Kind: types.QuantifierAll}
		if item.Quantifier != nil {
			quantifier = *item.Quantifier
		}

		return combine(quantifier, len(item.ActionIDs), func(i int) bool {
			nested := e.actions.byID[item.ActionIDs[i]]
			if nested == nil {
				return false
			}

			return e.isMet(nested)
		})

	default:
		return false
	}
}

// use returns the user's connection of the given kind and records it as
// relevant to this run.
func (e *evaluator) use(kind enum.ConnectionKind) *types.Connection {
	conn := e.user.Connection(kind)
	if conn == nil {
		return nil
	}

	for _, used := range e.used {
		if used.ID == conn.ID {
			return conn
		}
	}

	e.used = append(e.used, conn)

	return conn
}

// isMissingConnections reports whether some action depends on a connection
// kind the user does not share with the server.
func (e *evaluator) isMissingConnections() bool {
	for _, action := range e.actions.ordered {
		for _, item := range action.Criteria.Items {
			kind, ok := item.RelevantConnection()
			if ok && e.user.Connection(kind) == nil {
				return true
			}
		}
	}

	return false
}
