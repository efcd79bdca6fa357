package types

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/uptrace/bun"
)

var (
	ErrServerNotFound  = errors.New("server not found")
	ErrActionNotFound  = errors.New("sync action not found")
	ErrCommandNotFound = errors.New("command not found")
)

// LogTypes is the bitmask of server log categories a server has enabled.
type LogTypes int

const (
	LogTypeAuditLogs                    LogTypes = 1 << 0
	LogTypeServerProfileSync            LogTypes = 1 << 1
	LogTypeOnboardingCompletion         LogTypes = 1 << 2
	LogTypeVisualScriptingDocumentTrace LogTypes = 1 << 3
)

// Has reports whether every bit of t is enabled.
func (l LogTypes) Has(t LogTypes) bool {
	return l&t == t
}

// Server holds the configuration of a guild registered with mellow.
type Server struct {
	bun.BaseModel `bun:"table:mellow_servers,alias:ms"`

	ID                 uint64    `bun:",pk"                                          json:"id"`
	LoggingChannelID   *uint64   `bun:""                                             json:"logging_channel_id"`
	LoggingTypes       LogTypes  `bun:",notnull,default:0"                           json:"logging_types"`
	DefaultNickname    *string   `bun:""                                             json:"default_nickname"`
	AllowForcedSyncing bool      `bun:",notnull,default:false"                       json:"allow_forced_syncing"`
	CreatedAt          time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`

	// ActionIDs lists the server's sync actions in evaluation order.
	ActionIDs []uuid.UUID `bun:"-" json:"-"`
	// Authorisations holds the server's OAuth grants.
	Authorisations []*OAuthAuthorisation `bun:"-" json:"-"`
}

// SyncAction is a configured rule mapping criteria to an effect.
type SyncAction struct {
	bun.BaseModel `bun:"table:mellow_server_sync_actions,alias:sa"`

	ID          uuid.UUID       `bun:",pk,type:uuid"         json:"id"`
	ServerID    uint64          `bun:",notnull"              json:"server_id"`
	DisplayName string          `bun:",notnull"              json:"name"`
	Kind        enum.ActionKind `bun:"type:smallint,notnull" json:"type"`
	Criteria    Criteria        `bun:"type:jsonb,notnull"    json:"criteria"`
	Metadata    ActionMetadata  `bun:"type:jsonb,notnull"    json:"metadata"`
	Position    int             `bun:",notnull,default:0"    json:"position"`
}

// ActionMetadata holds the effect parameters of an action.
type ActionMetadata struct {
	RoleIDs    []string   `json:"role_ids,omitempty"`
	CanRemove  bool       `json:"can_remove,omitempty"`
	Reason     *string    `json:"reason,omitempty"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
}

// Roles parses the configured role identifiers, skipping malformed ones.
func (a *SyncAction) Roles() []uint64 {
	roles := make([]uint64, 0, len(a.Metadata.RoleIDs))
	for _, raw := range a.Metadata.RoleIDs {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			roles = append(roles, id)
		}
	}

	return roles
}

// ServerCommand binds a custom application command to a document.
type ServerCommand struct {
	bun.BaseModel `bun:"table:mellow_server_commands,alias:sc"`

	ID          uuid.UUID `bun:",pk,type:uuid"              json:"id"`
	ServerID    uint64    `bun:",notnull"                   json:"server_id"`
	Name        string    `bun:",notnull"                   json:"name"`
	Description string    `bun:",notnull,default:''"        json:"description"`
	DocumentID  uuid.UUID `bun:",notnull,type:uuid"         json:"document_id"`
	IsEphemeral bool      `bun:",notnull,default:false"     json:"is_ephemeral"`
}
