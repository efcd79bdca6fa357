package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/uptrace/bun"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrAuthorisationNotFound = errors.New("oauth authorisation not found")
)

// User represents an account registered with the identity registry.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        uuid.UUID `bun:",pk,type:uuid"                                 json:"id"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`

	// Connections holds the connections visible to the server being processed.
	Connections []*Connection `bun:"-" json:"-"`
}

// Connection returns the first connection of the given kind.
func (u *User) Connection(kind enum.ConnectionKind) *Connection {
	if u == nil {
		return nil
	}

	for _, conn := range u.Connections {
		if conn.Kind == kind {
			return conn
		}
	}

	return nil
}

// Connection links a user to an account on another platform.
type Connection struct {
	bun.BaseModel `bun:"table:user_connections,alias:uc"`

	ID          uuid.UUID           `bun:",pk,type:uuid"                                 json:"id"`
	UserID      uuid.UUID           `bun:",notnull,type:uuid"                            json:"user_id"`
	Kind        enum.ConnectionKind `bun:"type:smallint,notnull"                         json:"type"`
	Sub         string              `bun:",notnull"                                      json:"sub"`
	Username    *string             `bun:""                                              json:"username"`
	DisplayName *string             `bun:""                                              json:"display_name"`
	CreatedAt   time.Time           `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`

	// Authorisation is the current OAuth grant of the connection, if any.
	Authorisation *OAuthAuthorisation `bun:"-" json:"-"`
}

// Name returns the username, falling back to the subject.
func (c *Connection) Name() string {
	if c.Username != nil {
		return *c.Username
	}

	return c.Sub
}

// OAuthAuthorisation is an OAuth grant held for a connection or a server.
type OAuthAuthorisation struct {
	ID           int64           `bun:"id,pk"           json:"id"`
	TokenType    string          `bun:"token_type"      json:"token_type"`
	AccessToken  string          `bun:"access_token"    json:"access_token"`
	RefreshToken string          `bun:"refresh_token"   json:"refresh_token"`
	ExpiresAt    time.Time       `bun:"expires_at"      json:"expires_at"`
	Scope        string          `bun:"scope"           json:"scope"`
	Owner        enum.GrantOwner `bun:"-"               json:"-"`
}

// AuthorisationColumns lists the grant columns shared by both grant tables.
var AuthorisationColumns = []string{"id", "token_type", "access_token", "refresh_token", "expires_at", "scope"}

// IsExpired reports whether the grant must be refreshed before use.
func (a *OAuthAuthorisation) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// UserServerSettings stores which connections a user shares with a server.
type UserServerSettings struct {
	bun.BaseModel `bun:"table:mellow_user_server_settings,alias:uss"`

	ServerID      uint64      `bun:",pk"                   json:"server_id"`
	UserID        uuid.UUID   `bun:",pk,type:uuid"         json:"user_id"`
	ConnectionIDs []uuid.UUID `bun:"type:jsonb,notnull"    json:"user_connections"`
}

// Allows reports whether the connection is visible to the server.
func (s *UserServerSettings) Allows(connectionID uuid.UUID) bool {
	if s == nil {
		return false
	}

	for _, id := range s.ConnectionIDs {
		if id == connectionID {
			return true
		}
	}

	return false
}
