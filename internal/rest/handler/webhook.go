package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/mellow-sync/mellow/internal/patreon"
	restTypes "github.com/mellow-sync/mellow/internal/rest/types"
	"github.com/mellow-sync/mellow/internal/serverlog"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// PatreonWebhook re-syncs the member behind a pledge change in every server
// they share connections with.
func (h *Handler) PatreonWebhook(w http.ResponseWriter, req bunrouter.Request) error {
	body, err := readBody(req)
	if err != nil {
		return err
	}

	if err := patreon.VerifySignature(h.deps.PatreonWebhookSecret, body, req.Header.Get(patreon.SignatureHeader)); err != nil {
		return err
	}

	pledge, err := patreon.ParseMemberWebhook(body)
	if err != nil {
		return err
	}

	ctx := req.Context()

	connections, err := h.deps.Users.GetConnectionsBySub(ctx, enum.ConnectionKindPatreon, pledge.UserID)
	if err != nil {
		return err
	}

	var response restTypes.PatreonWebhookResponse

	for _, conn := range connections {
		targets, err := h.pledgeTargets(ctx, conn.UserID)
		if err != nil {
			return err
		}

		for _, target := range targets {
			_, err := h.deps.Syncer.SyncAndLog(ctx, target)
			if err != nil {
				response.Failed++
				h.logger.Warn("Failed to sync pledging member",
					zap.Error(err),
					zap.Uint64("guild_id", target.GuildID),
					zap.Uint64("user_id", target.UserID))

				continue
			}

			response.Synced++
		}
	}

	h.logger.Info("Handled pledge webhook",
		zap.String("patreon_user", pledge.UserID),
		zap.Bool("active", pledge.Active),
		zap.Int("synced", response.Synced),
		zap.Int("failed", response.Failed))

	return bunrouter.JSON(w, response)
}

// pledgeTargets lists the members to sync for a user and drops the cached
// identities of their funding connections.
func (h *Handler) pledgeTargets(ctx context.Context, userID uuid.UUID) ([]memberSync.Request, error) {
	connections, err := h.deps.Users.GetConnections(ctx, []uuid.UUID{userID})
	if err != nil {
		return nil, err
	}

	var discordID uint64

	for _, conn := range connections {
		switch conn.Kind {
		case enum.ConnectionKindDiscord:
			if id, err := strconv.ParseUint(conn.Sub, 10, 64); err == nil && discordID == 0 {
				discordID = id
			}
		case enum.ConnectionKindPatreon:
			if h.deps.Identities != nil {
				h.deps.Identities.ForgetIdentity(conn.Authorisation)
			}
		}
	}

	if discordID == 0 {
		return nil, nil
	}

	h.deps.Cache.InvalidateUser(userID)

	serverIDs, err := h.deps.Users.GetServerIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	targets := make([]memberSync.Request, 0, len(serverIDs))
	for _, serverID := range serverIDs {
		targets = append(targets, memberSync.Request{GuildID: serverID, UserID: discordID})
	}

	return targets, nil
}

// ActionLog posts a dashboard audit record to the server log.
func (h *Handler) ActionLog(w http.ResponseWriter, req bunrouter.Request) error {
	body, err := readBody(req)
	if err != nil {
		return err
	}

	var entry serverlog.ActionLog
	if err := h.decode(body, &entry); err != nil {
		return err
	}

	entry.At = time.Now()
	h.deps.Logs.Log(&entry)

	w.WriteHeader(http.StatusNoContent)

	return nil
}
