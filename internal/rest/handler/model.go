package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	restTypes "github.com/mellow-sync/mellow/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// ErrUnknownTable is returned for model updates of tables the bot does not cache.
var ErrUnknownTable = errors.New("unknown table")

// ModelUpdate evicts the cache entries behind a changed row. Both the new and
// the old row are evicted, so replaying an update converges to the same state.
func (h *Handler) ModelUpdate(w http.ResponseWriter, req bunrouter.Request) error {
	body, err := readBody(req)
	if err != nil {
		return err
	}

	var payload restTypes.ModelUpdatePayload
	if err := h.decode(body, &payload); err != nil {
		return err
	}

	for _, raw := range [][]byte{payload.Record, payload.OldRecord} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		var record restTypes.ModelRecord
		if err := sonic.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}

		if err := h.evict(payload.Table, &record); err != nil {
			return err
		}
	}

	h.logger.Debug("Applied model update",
		zap.String("table", payload.Table),
		zap.String("kind", string(payload.Kind)))

	w.WriteHeader(http.StatusNoContent)

	return nil
}

func (h *Handler) evict(table string, record *restTypes.ModelRecord) error {
	c := h.deps.Cache

	switch table {
	case "mellow_servers":
		id, err := recordServerID(record.ID)
		if err != nil {
			return err
		}

		c.InvalidateServer(id)
	case "mellow_server_sync_actions":
		id, serverID, err := recordIDs(record)
		if err != nil {
			return err
		}

		c.InvalidateAction(id, serverID)
	case "visual_scripting_documents":
		id, serverID, err := recordIDs(record)
		if err != nil {
			return err
		}

		c.InvalidateDocument(id, serverID)
	case "mellow_server_commands":
		serverID, err := recordServerID(record.ServerID)
		if err != nil {
			return err
		}

		c.InvalidateCommand(serverID, record.Name)
	case "user_connections":
		id, err := recordUUID(string(record.ID))
		if err != nil {
			return err
		}

		userID, err := recordUUID(record.UserID)
		if err != nil {
			return err
		}

		c.InvalidateConnection(id, userID)
	case "mellow_user_server_settings":
		serverID, err := recordServerID(record.ServerID)
		if err != nil {
			return err
		}

		userID, err := recordUUID(record.UserID)
		if err != nil {
			return err
		}

		c.InvalidateSettings(serverID, userID)
	case "users":
		id, err := recordUUID(string(record.ID))
		if err != nil {
			return err
		}

		c.InvalidateUser(id)
	default:
		return fmt.Errorf("%w: %w %q", ErrBadRequest, ErrUnknownTable, table)
	}

	return nil
}

func recordIDs(record *restTypes.ModelRecord) (uuid.UUID, uint64, error) {
	id, err := recordUUID(string(record.ID))
	if err != nil {
		return uuid.Nil, 0, err
	}

	serverID, err := recordServerID(record.ServerID)
	if err != nil {
		return uuid.Nil, 0, err
	}

	return id, serverID, nil
}

func recordUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed uuid %q", ErrBadRequest, raw)
	}

	return id, nil
}

func recordServerID(raw restTypes.FlexibleID) (uint64, error) {
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed server id %q", ErrBadRequest, raw)
	}

	return id, nil
}
