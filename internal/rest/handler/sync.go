package handler

import (
	"fmt"
	"net/http"
	"strconv"

	restTypes "github.com/mellow-sync/mellow/internal/rest/types"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// SyncMember syncs a registered member. Sign-ups complete the reply saved by
// the sync command instead.
func (h *Handler) SyncMember(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := parseID(req.Param("gid"))
	if err != nil {
		return err
	}

	userID, err := parseID(req.Param("uid"))
	if err != nil {
		return err
	}

	body, err := readBody(req)
	if err != nil {
		return err
	}

	var payload restTypes.SyncRequest
	if err := h.decode(body, &payload); err != nil {
		return err
	}

	ctx := req.Context()

	var result *memberSync.Result
	if payload.IsSignUp {
		result, err = h.deps.Commands.SyncWithToken(ctx, guildID, userID)
	} else {
		result, err = h.deps.Syncer.SyncAndLog(ctx, memberSync.Request{GuildID: guildID, UserID: userID})
	}

	if err != nil {
		return err
	}

	if payload.WebhookToken != "" {
		h.deps.Commands.ReportSync(ctx, payload.WebhookToken, result)
	}

	h.logger.Debug("Synced member through api",
		zap.Uint64("guild_id", guildID),
		zap.Uint64("user_id", userID),
		zap.Bool("sign_up", payload.IsSignUp))

	return bunrouter.JSON(w, syncResponse(result))
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed id %q", ErrBadRequest, raw)
	}

	return id, nil
}

func syncResponse(result *memberSync.Result) restTypes.SyncResponse {
	response := restTypes.SyncResponse{
		ServerID:             strconv.FormatUint(result.ServerID, 10),
		RoleChanges:          make([]restTypes.RoleChange, 0, len(result.RoleChanges)),
		MemberStatus:         result.MemberStatus.String(),
		ProfileChanged:       result.ProfileChanged,
		IsMissingConnections: result.IsMissingConnections,
	}

	for _, change := range result.RoleChanges {
		response.RoleChanges = append(response.RoleChanges, restTypes.RoleChange{
			Kind:   change.Kind.String(),
			RoleID: strconv.FormatUint(change.RoleID, 10),
		})
	}

	if nick := result.NicknameChange; nick != nil {
		response.NicknameChange = &restTypes.NicknameChange{Old: nick.Old, New: nick.New}
	}

	return response
}
