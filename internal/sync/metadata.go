package sync

import (
	"context"
	"fmt"
	"slices"
	stdsync "sync"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/roblox"
	"github.com/sourcegraph/conc/pool"
)

// maxMetadataLookups bounds concurrent identity provider requests of one run.
const maxMetadataLookups = 8

// ConnectionMetadata holds the identity provider facts criteria evaluate against.
type ConnectionMetadata struct {
	PatreonPledges    []patreon.Pledge
	RobloxMemberships map[string][]roblox.GroupRole
}

// actionSet is the ordered actions of a server together with every action
// they reference.
type actionSet struct {
	ordered []*types.SyncAction
	byID    map[uuid.UUID]*types.SyncAction
}

// loadActions resolves the server actions and, transitively, the actions
// referenced by nested criteria.
func (s *Service) loadActions(ctx context.Context, server *types.Server) (*actionSet, error) {
	ordered, err := s.cache.ServerActions(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("failed to get server actions: %w", err)
	}

	set := &actionSet{ordered: ordered, byID: make(map[uuid.UUID]*types.SyncAction, len(ordered))}
	for _, action := range ordered {
		set.byID[action.ID] = action
	}

	pending := ordered
	for len(pending) > 0 {
		var missing []uuid.UUID

		for _, action := range pending {
			for _, item := range action.Criteria.Items {
				if item.Type != types.CriterionNestedActions {
					continue
				}

				for _, id := range item.ActionIDs {
					if _, ok := set.byID[id]; !ok && !slices.Contains(missing, id) {
						missing = append(missing, id)
					}
				}
			}
		}

		if len(missing) == 0 {
			break
		}

		loaded, err := s.cache.Actions.GetMany(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to get nested actions: %w", err)
		}

		for _, action := range loaded {
			set.byID[action.ID] = action
		}

		// Unknown ids are dropped so they cannot be requested again
		for _, id := range missing {
			if _, ok := set.byID[id]; !ok {
				set.byID[id] = nil
			}
		}

		pending = loaded
	}

	return set, nil
}

// requiredKinds returns which identity providers the actions need data from.
func (a *actionSet) requiredKinds() (needsPatreon, needsRoblox bool) {
	for _, action := range a.byID {
		if action == nil {
			continue
		}

		for _, item := range action.Criteria.Items {
			switch {
			case item.Type == types.CriterionPatreonCampaignTier:
				needsPatreon = true
			case item.UsesRoblox():
				needsRoblox = true
			}
		}
	}

	return needsPatreon, needsRoblox
}

// GetConnectionMetadata fetches the identity provider data the server's
// actions need for the given users. Providers no action uses are skipped.
func (s *Service) GetConnectionMetadata(
	ctx context.Context, users []*types.User, server *types.Server,
) (*ConnectionMetadata, error) {
	actions, err := s.loadActions(ctx, server)
	if err != nil {
		return nil, err
	}

	return s.connectionMetadata(ctx, users, actions)
}

func (s *Service) connectionMetadata(
	ctx context.Context, users []*types.User, actions *actionSet,
) (*ConnectionMetadata, error) {
	metadata := &ConnectionMetadata{RobloxMemberships: make(map[string][]roblox.GroupRole)}

	needsPatreon, needsRoblox := actions.requiredKinds()
	if !needsPatreon && !needsRoblox {
		return metadata, nil
	}

	var mu stdsync.Mutex

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(maxMetadataLookups)
	requested := make(map[string]struct{})

	for _, user := range users {
		if conn := user.Connection(enum.ConnectionKindPatreon); needsPatreon && conn != nil {
			p.Go(func(ctx context.Context) error {
				pledges, err := s.patreon.UserMemberships(ctx, conn)
				if err != nil {
					return err
				}

				mu.Lock()
				metadata.PatreonPledges = append(metadata.PatreonPledges, pledges...)
				mu.Unlock()

				return nil
			})
		}

		conn := user.Connection(enum.ConnectionKindRoblox)
		if !needsRoblox || conn == nil {
			continue
		}

		if _, ok := requested[conn.Sub]; ok {
			continue
		}

		requested[conn.Sub] = struct{}{}

		p.Go(func(ctx context.Context) error {
			roles, err := s.roblox.UserGroupRoles(ctx, conn.Sub)
			if err != nil {
				return err
			}

			mu.Lock()
			metadata.RobloxMemberships[conn.Sub] = roles
			mu.Unlock()

			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	return metadata, nil
}
