package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Connection lookups by platform subject
			CREATE INDEX IF NOT EXISTS idx_user_connections_kind_sub
			ON user_connections (kind, sub);

			CREATE INDEX IF NOT EXISTS idx_user_connections_user
			ON user_connections (user_id);

			-- Per-server configuration
			CREATE INDEX IF NOT EXISTS idx_sync_actions_server_position
			ON mellow_server_sync_actions (server_id, position);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_server_commands_server_name
			ON mellow_server_commands (server_id, name);

			CREATE INDEX IF NOT EXISTS idx_documents_server
			ON visual_scripting_documents (server_id);

			CREATE INDEX IF NOT EXISTS idx_user_server_settings_user
			ON mellow_user_server_settings (user_id);

			-- Grant ownership
			CREATE INDEX IF NOT EXISTS idx_connection_authorisations_connection
			ON user_connection_oauth_authorisations (connection_id);

			CREATE INDEX IF NOT EXISTS idx_server_authorisations_server
			ON mellow_server_oauth_authorisations (server_id);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_server_authorisations_server;
			DROP INDEX IF EXISTS idx_connection_authorisations_connection;
			DROP INDEX IF EXISTS idx_user_server_settings_user;
			DROP INDEX IF EXISTS idx_documents_server;
			DROP INDEX IF EXISTS idx_server_commands_server_name;
			DROP INDEX IF EXISTS idx_sync_actions_server_position;
			DROP INDEX IF EXISTS idx_user_connections_user;
			DROP INDEX IF EXISTS idx_user_connections_kind_sub;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
