package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/dbretry"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ConnectionModel handles database operations for OAuth grants.
type ConnectionModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewConnection creates a new connection model instance.
func NewConnection(db *bun.DB, logger *zap.Logger) *ConnectionModel {
	return &ConnectionModel{
		db:     db,
		logger: logger.Named("db_connection"),
	}
}

// connectionGrant is a grant row together with the connection it belongs to.
type connectionGrant struct {
	types.OAuthAuthorisation

	ConnectionID uuid.UUID `bun:"connection_id"`
}

// serverGrant is a grant row together with the server it belongs to.
type serverGrant struct {
	types.OAuthAuthorisation

	ServerID uint64 `bun:"server_id"`
}

// GetAuthorisation retrieves the stored state of a grant.
func (m *ConnectionModel) GetAuthorisation(
	ctx context.Context, owner enum.GrantOwner, id int64,
) (*types.OAuthAuthorisation, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.OAuthAuthorisation, error) {
		grant := &types.OAuthAuthorisation{Owner: owner}

		err := m.db.NewSelect().
			Table(owner.Table()).
			Column(types.AuthorisationColumns...).
			Where("id = ?", id).
			Limit(1).
			Scan(ctx, grant)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrAuthorisationNotFound
		}

		if err != nil {
			return nil, fmt.Errorf("failed to get authorisation: %w", err)
		}

		grant.Owner = owner

		return grant, nil
	})
}

// UpdateAuthorisation persists refreshed tokens of a grant, keeping its id.
func (m *ConnectionModel) UpdateAuthorisation(ctx context.Context, grant *types.OAuthAuthorisation) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		result, err := m.db.NewUpdate().
			Table(grant.Owner.Table()).
			Set("token_type = ?", grant.TokenType).
			Set("access_token = ?", grant.AccessToken).
			Set("refresh_token = ?", grant.RefreshToken).
			Set("expires_at = ?", grant.ExpiresAt).
			Set("scope = ?", grant.Scope).
			Where("id = ?", grant.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update authorisation: %w", err)
		}

		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return types.ErrAuthorisationNotFound
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Updated authorisation",
		zap.Int64("id", grant.ID),
		zap.Time("expires_at", grant.ExpiresAt))

	return nil
}

// GetServerAuthorisations retrieves the grants held by a server.
func (m *ConnectionModel) GetServerAuthorisations(
	ctx context.Context, serverID uint64,
) ([]*types.OAuthAuthorisation, error) {
	grants, err := loadServerAuthorisations(ctx, m.db, []uint64{serverID})
	if err != nil {
		return nil, err
	}

	return grants[serverID], nil
}

// loadConnectionAuthorisations returns the most recent grant of each connection.
func loadConnectionAuthorisations(
	ctx context.Context, db bun.IDB, connectionIDs []uuid.UUID,
) (map[uuid.UUID]*types.OAuthAuthorisation, error) {
	owner := enum.GrantOwnerConnection

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]*types.OAuthAuthorisation, error) {
		var rows []connectionGrant

		err := db.NewSelect().
			Table(owner.Table()).
			Column(slices.Concat(types.AuthorisationColumns, []string{owner.Column()})...).
			Where("connection_id IN (?)", bun.In(connectionIDs)).
			Order("id ASC").
			Scan(ctx, &rows)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection authorisations: %w", err)
		}

		// Later rows replace earlier ones so the newest grant wins
		result := make(map[uuid.UUID]*types.OAuthAuthorisation, len(rows))
		for i := range rows {
			grant := rows[i].OAuthAuthorisation
			grant.Owner = owner
			result[rows[i].ConnectionID] = &grant
		}

		return result, nil
	})
}

// loadServerAuthorisations returns the grants of each server.
func loadServerAuthorisations(
	ctx context.Context, db bun.IDB, serverIDs []uint64,
) (map[uint64][]*types.OAuthAuthorisation, error) {
	owner := enum.GrantOwnerServer

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uint64][]*types.OAuthAuthorisation, error) {
		var rows []serverGrant

		err := db.NewSelect().
			Table(owner.Table()).
			Column(slices.Concat(types.AuthorisationColumns, []string{owner.Column()})...).
			Where("server_id IN (?)", bun.In(serverIDs)).
			Order("id ASC").
			Scan(ctx, &rows)
		if err != nil {
			return nil, fmt.Errorf("failed to get server authorisations: %w", err)
		}

		result := make(map[uint64][]*types.OAuthAuthorisation, len(serverIDs))
		for i := range rows {
			grant := rows[i].OAuthAuthorisation
			grant.Owner = owner
			result[rows[i].ServerID] = append(result[rows[i].ServerID], &grant)
		}

		return result, nil
	})
}
