package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
	"go.uber.org/zap"
)

// CommandDocumentTTL is how long a resolved custom command stays cached.
const CommandDocumentTTL = 10 * time.Minute

// Source loads persisted models missing from the cache.
type Source interface {
	GetServers(ctx context.Context, ids []uint64) (map[uint64]*types.Server, error)
	GetUsersByDiscordIDs(ctx context.Context, discordIDs []uint64) (map[uint64]*types.User, error)
	GetUserConnections(ctx context.Context, userID uuid.UUID) ([]*types.Connection, error)
	GetConnections(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Connection, error)
	GetServerSettings(ctx context.Context, serverID uint64, userID uuid.UUID) (*types.UserServerSettings, error)
	GetActions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.SyncAction, error)
	GetDocuments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Document, error)
	GetServerDocumentIDs(ctx context.Context, serverID uint64) ([]uuid.UUID, error)
	GetCommand(ctx context.Context, serverID uint64, name string) (*types.ServerCommand, error)
}

// PlatformSource loads chat platform snapshots missing from the cache.
type PlatformSource interface {
	GetGuild(ctx context.Context, guildID uint64) (*types.Guild, error)
	GetMember(ctx context.Context, guildID, userID uint64) (*types.Member, error)
	GetRoles(ctx context.Context, guildID uint64) ([]*types.Role, error)
}

// SettingsKey identifies the settings of a user for a server.
type SettingsKey struct {
	ServerID uint64
	UserID   uuid.UUID
}

// CommandKey identifies a custom command of a server.
type CommandKey struct {
	ServerID uint64
	Name     string
}

// ResolvedCommand is a custom command together with its document.
type ResolvedCommand struct {
	Command  *types.ServerCommand
	Document *types.Document
}

// Cache is the process-wide registry of model caches.
type Cache struct {
	Guilds          *Store[uint64, *types.Guild]
	Members         *Store[types.MemberKey, *types.Member]
	Roles           *Store[types.RoleKey, *types.Role]
	Servers         *Store[uint64, *types.Server]
	Users           *Store[uint64, *types.User]
	Connections     *Store[uuid.UUID, *types.Connection]
	UserConnections *Store[uuid.UUID, []uuid.UUID]
	UserSettings    *Store[SettingsKey, *types.UserServerSettings]
	Actions         *Store[uuid.UUID, *types.SyncAction]
	Documents       *Store[uuid.UUID, *types.Document]
	ServerDocuments *Store[uint64, []uuid.UUID]

	CommandDocuments *TTLStore[CommandKey, *ResolvedCommand]

	source   Source
	platform PlatformSource
	logger   *zap.Logger
}

// New creates the cache registry backed by the given sources.
func New(source Source, platform PlatformSource, logger *zap.Logger) *Cache {
	c := &Cache{
		source:           source,
		platform:         platform,
		logger:           logger.Named("cache"),
		CommandDocuments: NewTTLStore[CommandKey, *ResolvedCommand](CommandDocumentTTL),
	}

	c.Guilds = NewStore("guilds", func(ctx context.Context, id uint64) (*types.Guild, error) {
		return platform.GetGuild(ctx, id)
	}, nil)
	c.Members = NewStore("members", func(ctx context.Context, key types.MemberKey) (*types.Member, error) {
		return platform.GetMember(ctx, key.GuildID, key.UserID)
	}, nil)
	c.Roles = NewStore[types.RoleKey, *types.Role]("roles", nil, nil)
	c.Servers = NewStore("servers", nil, source.GetServers)
	c.Users = NewStore("users", nil, source.GetUsersByDiscordIDs)
	c.Connections = NewStore("connections", nil, source.GetConnections)
	c.UserConnections = NewStore("user_connections", c.loadUserConnections, nil)
	c.UserSettings = NewStore("user_settings", func(ctx context.Context, key SettingsKey) (*types.UserServerSettings, error) {
		return source.GetServerSettings(ctx, key.ServerID, key.UserID)
	}, nil)
	c.Actions = NewStore("actions", nil, source.GetActions)
	c.Documents = NewStore("documents", nil, source.GetDocuments)
	c.ServerDocuments = NewStore("server_documents", source.GetServerDocumentIDs, nil)

	return c
}

// Close stops the background reapers.
func (c *Cache) Close() {
	c.CommandDocuments.Stop()
}

// loadUserConnections loads the connections of a user, caching each one.
func (c *Cache) loadUserConnections(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	connections, err := c.source.GetUserConnections(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(connections))
	for i, conn := range connections {
		c.Connections.Insert(conn.ID, conn)
		ids[i] = conn.ID
	}

	return ids, nil
}

// Member returns the cached member, fetching it from the platform on a miss.
func (c *Cache) Member(ctx context.Context, guildID, userID uint64) (*types.Member, error) {
	return c.Members.GetOrLoad(ctx, types.MemberKey{GuildID: guildID, UserID: userID})
}

// ServerDocument returns the first ready document of the given kind owned by
// the server, or nil when there is none.
func (c *Cache) ServerDocument(ctx context.Context, serverID uint64, kind types.EventKind) (*types.Document, error) {
	ids, err := c.ServerDocuments.GetOrLoad(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to get server documents: %w", err)
	}

	documents, err := c.Documents.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	for _, document := range documents {
		if document.Kind == kind && document.IsReady() {
			return document, nil
		}
	}

	return nil, nil //nolint:nilnil // absence is not an error
}

// CommandDocument resolves a custom command and its document.
// Returns nil when the server has no command with that name.
func (c *Cache) CommandDocument(ctx context.Context, serverID uint64, name string) (*ResolvedCommand, error) {
	key := CommandKey{ServerID: serverID, Name: name}

	resolved, err := c.CommandDocuments.GetOrLoad(ctx, key, func(ctx context.Context) (*ResolvedCommand, error) {
		command, err := c.source.GetCommand(ctx, serverID, name)
		if errors.Is(err, types.ErrCommandNotFound) {
			return nil, ErrNotFound
		}

		if err != nil {
			return nil, err
		}

		document, err := c.Documents.GetOrLoad(ctx, command.DocumentID)
		if err != nil {
			return nil, err
		}

		return &ResolvedCommand{Command: command, Document: document}, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil //nolint:nilnil // absence is not an error
	}

	return resolved, err
}

// Server returns the registered server. Returns types.ErrServerNotFound when
// the guild never ran setup.
func (c *Cache) Server(ctx context.Context, serverID uint64) (*types.Server, error) {
	server, err := c.Servers.GetOrLoad(ctx, serverID)
	if errors.Is(err, ErrNotFound) {
		return nil, types.ErrServerNotFound
	}

	return server, err
}

// ServerActions returns the sync actions of a server in evaluation order.
func (c *Cache) ServerActions(ctx context.Context, server *types.Server) ([]*types.SyncAction, error) {
	return c.Actions.GetMany(ctx, server.ActionIDs)
}

// User resolves the registered user behind a chat platform account with the
// connections they share with the server attached. Returns types.ErrUserNotFound
// when the account is not registered.
func (c *Cache) User(ctx context.Context, serverID, discordID uint64) (*types.User, error) {
	user, err := c.Users.GetOrLoad(ctx, discordID)
	if errors.Is(err, ErrNotFound) {
		return nil, types.ErrUserNotFound
	}

	if err != nil {
		return nil, err
	}

	connections, err := c.VisibleConnections(ctx, serverID, user.ID)
	if err != nil {
		return nil, err
	}

	resolved := &types.User{ID: user.ID, CreatedAt: user.CreatedAt, Connections: connections}

	return resolved, nil
}

// VisibleConnections resolves the connections a user shares with a server.
func (c *Cache) VisibleConnections(ctx context.Context, serverID uint64, userID uuid.UUID) ([]*types.Connection, error) {
	settings, err := c.UserSettings.GetOrLoad(ctx, SettingsKey{ServerID: serverID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get server settings: %w", err)
	}

	ids, err := c.UserConnections.GetOrLoad(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user connections: %w", err)
	}

	connections, err := c.Connections.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get connections: %w", err)
	}

	visible := make([]*types.Connection, 0, len(connections))
	for _, conn := range connections {
		if settings.Allows(conn.ID) {
			visible = append(visible, conn)
		}
	}

	return visible, nil
}

// UpdateConnectionAuthorisation replaces the cached grant of the connection
// holding the grant id.
func (c *Cache) UpdateConnectionAuthorisation(grant *types.OAuthAuthorisation) {
	c.Connections.Range(func(id uuid.UUID, conn *types.Connection) bool {
		if conn.Authorisation == nil || conn.Authorisation.ID != grant.ID {
			return true
		}

		updated := *conn
		updated.Authorisation = grant
		c.Connections.Insert(id, &updated)

		return false
	})
}

// ForgetGuild evicts a guild together with its members and roles.
func (c *Cache) ForgetGuild(guildID uint64) {
	c.Guilds.Remove(guildID)
	c.Members.Range(func(key types.MemberKey, _ *types.Member) bool {
		if key.GuildID == guildID {
			c.Members.Remove(key)
		}

		return true
	})
	c.Roles.Range(func(key types.RoleKey, _ *types.Role) bool {
		if key.GuildID == guildID {
			c.Roles.Remove(key)
		}

		return true
	})
}

// GuildRoles returns the cached roles of a guild.
func (c *Cache) GuildRoles(guildID uint64) []*types.Role {
	var roles []*types.Role

	c.Roles.Range(func(key types.RoleKey, role *types.Role) bool {
		if key.GuildID == guildID {
			roles = append(roles, role)
		}

		return true
	})

	return roles
}

// LoadGuildRoles returns the roles of a guild, fetching them from the platform
// when none are cached.
func (c *Cache) LoadGuildRoles(ctx context.Context, guildID uint64) ([]*types.Role, error) {
	if roles := c.GuildRoles(guildID); len(roles) > 0 {
		return roles, nil
	}

	roles, err := c.platform.GetRoles(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild roles: %w", err)
	}

	c.InsertGuildRoles(guildID, roles)

	return roles, nil
}

// ReplaceGuildRoles swaps the cached roles of a guild for the given ones.
func (c *Cache) ReplaceGuildRoles(guildID uint64, roles []*types.Role) {
	current := make(map[uint64]struct{}, len(roles))
	for _, role := range roles {
		current[role.ID] = struct{}{}
	}

	c.Roles.Range(func(key types.RoleKey, _ *types.Role) bool {
		if _, ok := current[key.RoleID]; key.GuildID == guildID && !ok {
			c.Roles.Remove(key)
		}

		return true
	})

	c.InsertGuildRoles(guildID, roles)
}

// InsertGuildRoles caches the given roles of a guild.
func (c *Cache) InsertGuildRoles(guildID uint64, roles []*types.Role) {
	for _, role := range roles {
		c.Roles.Insert(types.RoleKey{GuildID: guildID, RoleID: role.ID}, role)
	}
}
