package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/patreon"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
)

// syncReply describes a sync result to the member who asked for it.
func (h *Handler) syncReply(result *memberSync.Result, err error, self bool) string {
	subject, possessive := "The member", "Their"
	if self {
		subject, possessive = "You", "Your"
	}

	var invalid *patreon.ConnectionInvalidError

	switch {
	case errors.As(err, &invalid):
		return fmt.Sprintf("%s %s connection needs to be reconnected before syncing.", possessive, invalid.Kind)
	case errors.Is(err, types.ErrServerNotFound):
		return "mellow is not set up in this server."
	case err != nil:
		return "Something went wrong while syncing, please try again later."
	}

	var b strings.Builder

	switch {
	case result.MemberStatus == types.MemberStatusBanned:
		fmt.Fprintf(&b, "%s met the criteria to be banned.", subject)
	case result.MemberStatus == types.MemberStatusKicked:
		fmt.Fprintf(&b, "%s met the criteria to be kicked.", subject)
	case result.ProfileChanged:
		fmt.Fprintf(&b, "%s server profile has been updated.", possessive)
		writeChanges(&b, result)
	default:
		fmt.Fprintf(&b, "%s server profile is already up to date.", possessive)
	}

	if result.IsMissingConnections {
		b.WriteString("\nSome roles need connections that are not linked yet.")
	}

	return b.String()
}

func writeChanges(b *strings.Builder, result *memberSync.Result) {
	for _, change := range result.RoleChanges {
		sign := "+"
		if change.Kind == types.RoleRemoved {
			sign = "-"
		}

		fmt.Fprintf(b, "\n%s <@&%d>", sign, change.RoleID)
	}

	if nick := result.NicknameChange; nick != nil {
		fmt.Fprintf(b, "\nNickname: %s", nicknameOrNone(nick.New))
	}
}

func nicknameOrNone(nick *string) string {
	if nick == nil {
		return "none"
	}

	return "`" + *nick + "`"
}
