package cache

import (
	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
)

// The Invalidate helpers evict entries after the backing rows changed. They
// are safe to replay and never load anything.

// InvalidateServer evicts a server and the custom commands resolved for it.
func (c *Cache) InvalidateServer(serverID uint64) {
	c.Servers.Remove(serverID)
	c.ServerDocuments.Remove(serverID)
	c.CommandDocuments.DeleteFunc(func(key CommandKey, _ *ResolvedCommand) bool {
		return key.ServerID == serverID
	})
}

// InvalidateAction evicts an action. The owning server is evicted too since
// it holds the action order.
func (c *Cache) InvalidateAction(actionID uuid.UUID, serverID uint64) {
	c.Actions.Remove(actionID)
	c.Servers.Remove(serverID)
}

// InvalidateDocument evicts a document and every command resolved to it.
func (c *Cache) InvalidateDocument(documentID uuid.UUID, serverID uint64) {
	c.Documents.Remove(documentID)
	c.ServerDocuments.Remove(serverID)
	c.CommandDocuments.DeleteFunc(func(_ CommandKey, resolved *ResolvedCommand) bool {
		return resolved != nil && resolved.Command.DocumentID == documentID
	})
}

// InvalidateCommand evicts a resolved custom command.
func (c *Cache) InvalidateCommand(serverID uint64, name string) {
	c.CommandDocuments.Delete(CommandKey{ServerID: serverID, Name: name})
}

// InvalidateConnection evicts a connection and the user it belongs to.
func (c *Cache) InvalidateConnection(connectionID, userID uuid.UUID) {
	c.Connections.Remove(connectionID)
	c.InvalidateUser(userID)
}

// InvalidateSettings evicts the server settings of a user.
func (c *Cache) InvalidateSettings(serverID uint64, userID uuid.UUID) {
	c.UserSettings.Remove(SettingsKey{ServerID: serverID, UserID: userID})
}

// InvalidateUser evicts a user under every chat platform id it is cached by.
func (c *Cache) InvalidateUser(userID uuid.UUID) {
	c.UserConnections.Remove(userID)
	c.Users.Range(func(discordID uint64, user *types.User) bool {
		if user.ID == userID {
			c.Users.Remove(discordID)
		}

		return true
	})
}
