package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
)

// Source adapts the repository to the loaders used by the cache layer.
type Source struct {
	repo *Repository
}

// NewSource creates a cache source over the repository.
func NewSource(repo *Repository) *Source {
	return &Source{repo: repo}
}

func (s *Source) GetServers(ctx context.Context, ids []uint64) (map[uint64]*types.Server, error) {
	return s.repo.Server().GetMany(ctx, ids)
}

func (s *Source) GetUsersByDiscordIDs(ctx context.Context, discordIDs []uint64) (map[uint64]*types.User, error) {
	return s.repo.User().GetManyByDiscordIDs(ctx, discordIDs)
}

func (s *Source) GetUserConnections(ctx context.Context, userID uuid.UUID) ([]*types.Connection, error) {
	return s.repo.User().GetConnections(ctx, []uuid.UUID{userID})
}

func (s *Source) GetConnections(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Connection, error) {
	connections, err := s.repo.User().GetConnectionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make(map[uuid.UUID]*types.Connection, len(connections))
	for _, conn := range connections {
		result[conn.ID] = conn
	}

	return result, nil
}

// GetServerSettings returns empty settings when the user never configured the server.
func (s *Source) GetServerSettings(
	ctx context.Context, serverID uint64, userID uuid.UUID,
) (*types.UserServerSettings, error) {
	settings, err := s.repo.User().GetServerSettings(ctx, serverID, userID)
	if err != nil {
		return nil, err
	}

	if settings == nil {
		settings = &types.UserServerSettings{ServerID: serverID, UserID: userID}
	}

	return settings, nil
}

func (s *Source) GetActions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.SyncAction, error) {
	return s.repo.Server().GetActionsByIDs(ctx, ids)
}

func (s *Source) GetDocuments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Document, error) {
	return s.repo.Document().GetMany(ctx, ids)
}

func (s *Source) GetServerDocumentIDs(ctx context.Context, serverID uint64) ([]uuid.UUID, error) {
	return s.repo.Document().GetServerDocumentIDs(ctx, serverID)
}

func (s *Source) GetCommand(ctx context.Context, serverID uint64, name string) (*types.ServerCommand, error) {
	return s.repo.Server().GetCommand(ctx, serverID, name)
}
