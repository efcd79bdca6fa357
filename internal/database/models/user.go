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

// UserModel handles database operations for users and their connections.
type UserModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewUser creates a new user model instance.
func NewUser(db *bun.DB, logger *zap.Logger) *UserModel {
	return &UserModel{
		db:     db,
		logger: logger.Named("db_user"),
	}
}

// discordLink maps a chat platform account to a registered user.
type discordLink struct {
	UserID uuid.UUID `bun:"user_id"`
	Sub    string    `bun:"sub"`
}

// GetByID retrieves a user by its internal identifier.
func (m *UserModel) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.User, error) {
		user := new(types.User)

		err := m.db.NewSelect().Model(user).Where("id = ?", id).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrUserNotFound
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get user: %w", err)
		}

		return user, nil
	})
}

// GetByDiscordID retrieves the user owning the chat platform account.
func (m *UserModel) GetByDiscordID(ctx context.Context, discordID uint64) (*types.User, error) {
	users, err := m.GetManyByDiscordIDs(ctx, []uint64{discordID})
	if err != nil {
		return nil, err
	}

	user, ok := users[discordID]
	if !ok {
		return nil, types.ErrUserNotFound
	}

	return user, nil
}

// GetManyByDiscordIDs retrieves the users owning the given chat platform accounts.
// Accounts without a registered user are absent from the result.
func (m *UserModel) GetManyByDiscordIDs(ctx context.Context, discordIDs []uint64) (map[uint64]*types.User, error) {
	if len(discordIDs) == 0 {
		return map[uint64]*types.User{}, nil
	}

	subs := make([]string, len(discordIDs))
	for i, id := range discordIDs {
		subs[i] = strconv.FormatUint(id, 10)
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uint64]*types.User, error) {
		var links []discordLink

		err := m.db.NewSelect().
			Model((*types.Connection)(nil)).
			Column("user_id", "sub").
			Where("kind = ?", enum.ConnectionKindDiscord).
			Where("sub IN (?)", bun.In(subs)).
			Scan(ctx, &links)
		if err != nil {
			return nil, fmt.Errorf("failed to get discord links: %w", err)
		}

		if len(links) == 0 {
			return map[uint64]*types.User{}, nil
		}

		userIDs := make([]uuid.UUID, 0, len(links))
		for _, link := range links {
			userIDs = append(userIDs, link.UserID)
		}

		var users []*types.User
		if err := m.db.NewSelect().Model(&users).Where("id IN (?)", bun.In(userIDs)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}

		byID := make(map[uuid.UUID]*types.User, len(users))
		for _, user := range users {
			byID[user.ID] = user
		}

		result := make(map[uint64]*types.User, len(links))
		for _, link := range links {
			discordID, err := strconv.ParseUint(link.Sub, 10, 64)
			if err != nil {
				continue
			}

			if user, ok := byID[link.UserID]; ok {
				result[discordID] = user
			}
		}

		return result, nil
	})
}

// GetConnections retrieves every connection of the given users, with their
// current OAuth grant attached.
func (m *UserModel) GetConnections(ctx context.Context, userIDs []uuid.UUID) ([]*types.Connection, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	connections, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Connection, error) {
		var connections []*types.Connection

		err := m.db.NewSelect().
			Model(&connections).
			Where("user_id IN (?)", bun.In(userIDs)).
			Order("created_at ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connections: %w", err)
		}

		return connections, nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.attachAuthorisations(ctx, connections); err != nil {
		return nil, err
	}

	return connections, nil
}

// GetConnectionsByIDs retrieves connections by their identifiers.
func (m *UserModel) GetConnectionsByIDs(ctx context.Context, ids []uuid.UUID) ([]*types.Connection, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	connections, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Connection, error) {
		var connections []*types.Connection
		if err := m.db.NewSelect().Model(&connections).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to get connections: %w", err)
		}

		return connections, nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.attachAuthorisations(ctx, connections); err != nil {
		return nil, err
	}

	return connections, nil
}

// GetConnectionsBySub retrieves connections of the given kind and subject.
func (m *UserModel) GetConnectionsBySub(
	ctx context.Context, kind enum.ConnectionKind, sub string,
) ([]*types.Connection, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Connection, error) {
		var connections []*types.Connection

		err := m.db.NewSelect().
			Model(&connections).
			Where("kind = ?", kind).
			Where("sub = ?", sub).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connections by subject: %w", err)
		}

		return connections, nil
	})
}

// GetServerSettings retrieves the settings a user has for a server.
// Returns nil without error when the user never configured the server.
func (m *UserModel) GetServerSettings(
	ctx context.Context, serverID uint64, userID uuid.UUID,
) (*types.UserServerSettings, error) {
	settings, err := m.GetServerSettingsMany(ctx, serverID, []uuid.UUID{userID})
	if err != nil {
		return nil, err
	}

	return settings[userID], nil
}

// GetServerSettingsMany retrieves the settings of several users for a server.
func (m *UserModel) GetServerSettingsMany(
	ctx context.Context, serverID uint64, userIDs []uuid.UUID,
) (map[uuid.UUID]*types.UserServerSettings, error) {
	if len(userIDs) == 0 {
		return map[uuid.UUID]*types.UserServerSettings{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]*types.UserServerSettings, error) {
		var settings []*types.UserServerSettings

		err := m.db.NewSelect().
			Model(&settings).
			Where("server_id = ?", serverID).
			Where("user_id IN (?)", bun.In(userIDs)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get server settings: %w", err)
		}

		result := make(map[uuid.UUID]*types.UserServerSettings, len(settings))
		for _, setting := range settings {
			result[setting.UserID] = setting
		}

		return result, nil
	})
}

// GetServerIDsForUser lists the servers a user has settings for.
func (m *UserModel) GetServerIDsForUser(ctx context.Context, userID uuid.UUID) ([]uint64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]uint64, error) {
		var serverIDs []uint64

		err := m.db.NewSelect().
			Model((*types.UserServerSettings)(nil)).
			Column("server_id").
			Where("user_id = ?", userID).
			Scan(ctx, &serverIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to get servers for user: %w", err)
		}

		return serverIDs, nil
	})
}

// attachAuthorisations loads the most recent grant of each connection.
func (m *UserModel) attachAuthorisations(ctx context.Context, connections []*types.Connection) error {
	if len(connections) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(connections))
	for i, conn := range connections {
		ids[i] = conn.ID
	}

	grants, err := loadConnectionAuthorisations(ctx, m.db, ids)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		conn.Authorisation = grants[conn.ID]
	}

	return nil
}
