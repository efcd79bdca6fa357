// Package serverlog formats and posts guild log records to the logging
// channel configured by each server.
package serverlog

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
)

const (
	colorAudit      = 0x5865f2
	colorSync       = 0x57f287
	colorOnboarding = 0xfee75c
	colorTrace      = 0xeb459e
	colorError      = 0xed4245

	maxFieldValue = 1024
)

// ServerLog is a record posted to the logging channel of a server.
type ServerLog interface {
	// ServerID is the server the record belongs to.
	ServerID() uint64
	// Category is the log type that must be enabled for the record to be posted.
	Category() types.LogTypes
	// Embed renders the record.
	Embed() platform.Embed
}

// ActionLog is an audit record of a dashboard change.
type ActionLog struct {
	Kind     string         `json:"type"      validate:"required"`
	Server   string         `json:"server_id" validate:"required,number"`
	AuthorID string         `json:"author_id"`
	TargetID string         `json:"target_id"`
	Data     map[string]any `json:"data"`
	At       time.Time      `json:"-"`
}

func (l *ActionLog) ServerID() uint64 {
	id, _ := strconv.ParseUint(l.Server, 10, 64)
	return id
}

func (l *ActionLog) Category() types.LogTypes { return types.LogTypeAuditLogs }

func (l *ActionLog) Embed() platform.Embed {
	title := strings.NewReplacer(".", " ", "_", " ").Replace(l.Kind)

	embed := platform.Embed{
		Title:     strings.TrimSpace(title),
		Color:     colorAudit,
		Timestamp: l.At,
	}

	if l.AuthorID != "" {
		embed.Description = fmt.Sprintf("Performed by <@%s>", l.AuthorID)
	}

	if l.TargetID != "" {
		embed.Fields = append(embed.Fields, platform.EmbedField{Name: "Target", Value: l.TargetID, Inline: true})
	}

	for _, key := range slices.Sorted(maps.Keys(l.Data)) {
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name:  key,
			Value: truncate(fmt.Sprint(l.Data[key]), maxFieldValue),
		})
	}

	return embed
}

// ServerProfileSync records a member whose roles or nickname changed.
type ServerProfileSync struct {
	Member              types.Member
	ForcedBy            *uint64
	RoleChanges         []types.RoleChange
	NicknameChange      *types.NicknameChange
	RelevantConnections []*types.Connection
}

func (l *ServerProfileSync) ServerID() uint64 { return l.Member.GuildID }

func (l *ServerProfileSync) Category() types.LogTypes { return types.LogTypeServerProfileSync }

func (l *ServerProfileSync) Embed() platform.Embed {
	var lines []string

	for _, change := range l.RoleChanges {
		sign := "+"
		if change.Kind == types.RoleRemoved {
			sign = "-"
		}

		lines = append(lines, fmt.Sprintf("%s <@&%d>", sign, change.RoleID))
	}

	if l.NicknameChange != nil {
		lines = append(lines, fmt.Sprintf("Nickname: %s -> %s",
			nicknameOrNone(l.NicknameChange.Old), nicknameOrNone(l.NicknameChange.New)))
	}

	embed := platform.Embed{
		Title:       "Server Profile Updated",
		Description: truncate(strings.Join(lines, "\n"), 4096),
		Color:       colorSync,
		AuthorName:  l.Member.DisplayName,
		AuthorIcon:  l.Member.AvatarURL,
		Timestamp:   time.Now(),
	}

	if l.ForcedBy != nil {
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name: "Forced by", Value: fmt.Sprintf("<@%d>", *l.ForcedBy), Inline: true,
		})
	}

	if len(l.RelevantConnections) > 0 {
		names := make([]string, len(l.RelevantConnections))
		for i, conn := range l.RelevantConnections {
			names[i] = fmt.Sprintf("%s (%s)", conn.Name(), conn.Kind)
		}

		embed.Footer = strings.Join(names, ", ")
	}

	return embed
}

// UserCompletedOnboarding records a member passing the guild's onboarding.
type UserCompletedOnboarding struct {
	Member types.Member
}

func (l *UserCompletedOnboarding) ServerID() uint64 { return l.Member.GuildID }

func (l *UserCompletedOnboarding) Category() types.LogTypes { return types.LogTypeOnboardingCompletion }

func (l *UserCompletedOnboarding) Embed() platform.Embed {
	return platform.Embed{
		Title:       "Member Completed Onboarding",
		Description: fmt.Sprintf("<@%d> completed onboarding", l.Member.UserID),
		Color:       colorOnboarding,
		AuthorName:  l.Member.DisplayName,
		AuthorIcon:  l.Member.AvatarURL,
		Timestamp:   time.Now(),
	}
}

// VisualScriptingProcessorTrace records what a document run did.
type VisualScriptingProcessorTrace struct {
	Server       uint64
	DocumentID   uuid.UUID
	DocumentName string
	UserID       *uint64
	Items        []TrackerItem
}

func (l *VisualScriptingProcessorTrace) ServerID() uint64 { return l.Server }

func (l *VisualScriptingProcessorTrace) Category() types.LogTypes {
	return types.LogTypeVisualScriptingDocumentTrace
}

func (l *VisualScriptingProcessorTrace) Embed() platform.Embed {
	lines := make([]string, 0, len(l.Items))

	color := colorTrace
	for _, item := range l.Items {
		if item.Kind == TrackerError {
			color = colorError
		}

		lines = append(lines, item.String())
	}

	embed := platform.Embed{
		Title:       "Document Executed: " + l.DocumentName,
		Description: truncate(strings.Join(lines, "\n"), 4096),
		Color:       color,
		Footer:      l.DocumentID.String(),
		Timestamp:   time.Now(),
	}

	if l.UserID != nil {
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name: "Member", Value: fmt.Sprintf("<@%d>", *l.UserID), Inline: true,
		})
	}

	return embed
}

func nicknameOrNone(nick *string) string {
	if nick == nil {
		return "none"
	}

	return "`" + *nick + "`"
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}

	return string(runes[:limit-3]) + "..."
}
