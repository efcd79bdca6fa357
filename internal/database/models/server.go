package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/dbretry"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ServerModel handles database operations for servers, their sync actions
// and custom commands.
type ServerModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewServer creates a new server model instance.
func NewServer(db *bun.DB, logger *zap.Logger) *ServerModel {
	return &ServerModel{
		db:     db,
		logger: logger.Named("db_server"),
	}
}

// Get retrieves a server with its ordered action ids and grants.
func (m *ServerModel) Get(ctx context.Context, id uint64) (*types.Server, error) {
	servers, err := m.GetMany(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}

	server, ok := servers[id]
	if !ok {
		return nil, types.ErrServerNotFound
	}

	return server, nil
}

// GetMany retrieves servers by id. Unknown ids are absent from the result.
func (m *ServerModel) GetMany(ctx context.Context, ids []uint64) (map[uint64]*types.Server, error) {
	if len(ids) == 0 {
		return map[uint64]*types.Server{}, nil
	}

	servers, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Server, error) {
		var servers []*types.Server
		if err := m.db.NewSelect().Model(&servers).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get servers: %w", err)
		}

		return servers, nil
	})
	if err != nil {
		return nil, err
	}

	result := make(map[uint64]*types.Server, len(servers))
	if len(servers) == 0 {
		return result, nil
	}

	found := make([]uint64, 0, len(servers))
	for _, server := range servers {
		result[server.ID] = server
		found = append(found, server.ID)
	}

	actionIDs, err := m.getActionIDs(ctx, found)
	if err != nil {
		return nil, err
	}

	grants, err := loadServerAuthorisations(ctx, m.db, found)
	if err != nil {
		return nil, err
	}

	for _, server := range servers {
		server.ActionIDs = actionIDs[server.ID]
		server.Authorisations = grants[server.ID]
	}

	return result, nil
}

// Create registers a server, doing nothing when it already exists.
func (m *ServerModel) Create(ctx context.Context, id uint64) (*types.Server, error) {
	server := &types.Server{ID: id}

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().Model(server).On("CONFLICT (id) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Registered server", zap.Uint64("server_id", id))

	return m.Get(ctx, id)
}

// GetActions retrieves the sync actions of a server in evaluation order.
func (m *ServerModel) GetActions(ctx context.Context, serverID uint64) ([]*types.SyncAction, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.SyncAction, error) {
		var actions []*types.SyncAction

		err := m.db.NewSelect().
			Model(&actions).
			Where("server_id = ?", serverID).
			Order("position ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get sync actions: %w", err)
		}

		return actions, nil
	})
}

// GetActionsByIDs retrieves sync actions by id.
func (m *ServerModel) GetActionsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.SyncAction, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*types.SyncAction{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]*types.SyncAction, error) {
		var actions []*types.SyncAction
		if err := m.db.NewSelect().Model(&actions).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get sync actions: %w", err)
		}

		result := make(map[uuid.UUID]*types.SyncAction, len(actions))
		for _, action := range actions {
			result[action.ID] = action
		}

		return result, nil
	})
}

// GetAction retrieves a single sync action.
func (m *ServerModel) GetAction(ctx context.Context, id uuid.UUID) (*types.SyncAction, error) {
	actions, err := m.GetActionsByIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}

	action, ok := actions[id]
	if !ok {
		return nil, types.ErrActionNotFound
	}

	return action, nil
}

// GetCommands retrieves the custom commands of a server.
func (m *ServerModel) GetCommands(ctx context.Context, serverID uint64) ([]*types.ServerCommand, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ServerCommand, error) {
		var commands []*types.ServerCommand

		err := m.db.NewSelect().
			Model(&commands).
			Where("server_id = ?", serverID).
			Order("name ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get commands: %w", err)
		}

		return commands, nil
	})
}

// GetAllCommands retrieves the custom commands of every server.
func (m *ServerModel) GetAllCommands(ctx context.Context) ([]*types.ServerCommand, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ServerCommand, error) {
		var commands []*types.ServerCommand
		if err := m.db.NewSelect().Model(&commands).Order("server_id ASC", "name ASC").Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get commands: %w", err)
		}

		return commands, nil
	})
}

// GetCommand retrieves a custom command of a server by name.
func (m *ServerModel) GetCommand(ctx context.Context, serverID uint64, name string) (*types.ServerCommand, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.ServerCommand, error) {
		command := new(types.ServerCommand)

		err := m.db.NewSelect().
			Model(command).
			Where("server_id = ?", serverID).
			Where("name = ?", name).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrCommandNotFound
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get command: %w", err)
		}

		return command, nil
	})
}

// GetRegisteredMembers lists the chat platform ids of users with settings
// for the server.
func (m *ServerModel) GetRegisteredMembers(ctx context.Context, serverID uint64) ([]uint64, error) {
	subs, err := dbretry.Operation(ctx, func(ctx context.Context) ([]string, error) {
		var subs []string

		err := m.db.NewSelect().
			TableExpr("mellow_user_server_settings AS uss").
			Join("JOIN user_connections AS uc ON uc.user_id = uss.user_id").
			ColumnExpr("DISTINCT uc.sub").
			Where("uss.server_id = ?", serverID).
			Where("uc.kind = ?", enum.ConnectionKindDiscord).
			Scan(ctx, &subs)
		if err != nil {
			return nil, fmt.Errorf("failed to get registered members: %w", err)
		}

		return subs, nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(subs))
	for _, sub := range subs {
		if id, err := strconv.ParseUint(sub, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// actionRef is the part of an action needed to order it within its server.
type actionRef struct {
	ID       uuid.UUID `bun:"id"`
	ServerID uint64    `bun:"server_id"`
}

// getActionIDs returns the ordered action ids of each server.
func (m *ServerModel) getActionIDs(ctx context.Context, serverIDs []uint64) (map[uint64][]uuid.UUID, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (map[uint64][]uuid.UUID, error) {
		var refs []actionRef

		err := m.db.NewSelect().
			Model((*types.SyncAction)(nil)).
			Column("id", "server_id").
			Where("server_id IN (?)", bun.In(serverIDs)).
			Order("position ASC", "id ASC").
			Scan(ctx, &refs)
		if err != nil {
			return nil, fmt.Errorf("failed to get action ids: %w", err)
		}

		result := make(map[uint64][]uuid.UUID, len(serverIDs))
		for _, ref := range refs {
			result[ref.ServerID] = append(result[ref.ServerID], ref.ID)
		}

		return result, nil
	})
}
