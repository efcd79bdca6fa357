package visual

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/mellow-sync/mellow/internal/database/types"
)

// Variables is the environment shared by every element of one document run,
// including the elements of nested if statements.
type Variables struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewVariables creates an environment holding a copy of initial.
func NewVariables(initial map[string]any) *Variables {
	values := make(map[string]any, len(initial))
	maps.Copy(values, initial)

	return &Variables{values: values}
}

// Set binds a top level variable.
func (v *Variables) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.values[key] = value
}

// Get resolves a dotted path such as "member.roles" or "campaign.tiers.0".
func (v *Variables) Get(path string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var current any = v.values

	for part := range strings.SplitSeq(path, ".") {
		switch value := current.(type) {
		case map[string]any:
			next, ok := value[part]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(value) {
				return nil, false
			}

			current = value[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// String resolves a path to its text form. Only scalars have a text form.
func (v *Variables) String(path string) (string, bool) {
	value, ok := v.Get(path)
	if !ok {
		return "", false
	}

	switch value := value.(type) {
	case string:
		return value, true
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(value), true
	default:
		return "", false
	}
}

// ID resolves a path holding a snowflake.
func (v *Variables) ID(path string) (uint64, bool) {
	value, ok := v.String(path)
	if !ok {
		return 0, false
	}

	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// Render renders a text template against the environment.
func (v *Variables) Render(text types.Text) string {
	return text.Resolve(v.String)
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// MemberVariables returns the "member" binding of a member.
func MemberVariables(member *types.Member) map[string]any {
	roles := make([]any, len(member.RoleIDs))
	for i, id := range member.RoleIDs {
		roles[i] = formatID(id)
	}

	return map[string]any{
		"id":           formatID(member.UserID),
		"roles":        roles,
		"guild_id":     formatID(member.GuildID),
		"username":     member.Username,
		"avatar_url":   member.AvatarURL,
		"display_name": member.DisplayName,
	}
}

// MessageVariables returns the "message" binding of a message.
func MessageVariables(message *types.Message) map[string]any {
	return map[string]any{
		"id":         formatID(message.ID),
		"content":    message.Content,
		"channel_id": formatID(message.ChannelID),
		"author": map[string]any{
			"id":       formatID(message.AuthorID),
			"username": message.AuthorName,
		},
	}
}

// MemberEnvironment returns the initial variables of a member scoped run.
func MemberEnvironment(member *types.Member) map[string]any {
	return map[string]any{
		"member":   MemberVariables(member),
		"guild_id": formatID(member.GuildID),
	}
}
