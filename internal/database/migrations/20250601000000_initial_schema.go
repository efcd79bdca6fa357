package migrations

import (
	"context"
	"fmt"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.User)(nil),
			(*types.Connection)(nil),
			(*types.Server)(nil),
			(*types.SyncAction)(nil),
			(*types.ServerCommand)(nil),
			(*types.UserServerSettings)(nil),
			(*types.Document)(nil),
		}

		for _, model := range models {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		// Grant tables share their columns and differ only in the owner reference
		_, err := db.NewRaw(`
			CREATE TABLE IF NOT EXISTS user_connection_oauth_authorisations (
				id BIGSERIAL PRIMARY KEY,
				connection_id UUID NOT NULL REFERENCES user_connections (id) ON DELETE CASCADE,
				token_type TEXT NOT NULL,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				scope TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS mellow_server_oauth_authorisations (
				id BIGSERIAL PRIMARY KEY,
				server_id BIGINT NOT NULL REFERENCES mellow_servers (id) ON DELETE CASCADE,
				token_type TEXT NOT NULL,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				scope TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create authorisation tables: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP TABLE IF EXISTS mellow_server_oauth_authorisations;
			DROP TABLE IF EXISTS user_connection_oauth_authorisations;
			DROP TABLE IF EXISTS visual_scripting_documents;
			DROP TABLE IF EXISTS mellow_user_server_settings;
			DROP TABLE IF EXISTS mellow_server_commands;
			DROP TABLE IF EXISTS mellow_server_sync_actions;
			DROP TABLE IF EXISTS mellow_servers;
			DROP TABLE IF EXISTS user_connections;
			DROP TABLE IF EXISTS users;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}

		return nil
	})
}
