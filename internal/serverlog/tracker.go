package serverlog

import "fmt"

// TrackerKind identifies what a document element did.
type TrackerKind string

const (
	TrackerBannedMember     TrackerKind = "banned_member"
	TrackerKickedMember     TrackerKind = "kicked_member"
	TrackerSyncedMember     TrackerKind = "synced_member"
	TrackerAssignedRole     TrackerKind = "assigned_role"
	TrackerRemovedRole      TrackerKind = "removed_role"
	TrackerReplied          TrackerKind = "replied"
	TrackerAddedReaction    TrackerKind = "added_reaction"
	TrackerCreatedMessage   TrackerKind = "created_message"
	TrackerDeletedMessage   TrackerKind = "deleted_message"
	TrackerStartedThread    TrackerKind = "started_thread"
	TrackerInteractionReply TrackerKind = "interaction_reply"
	TrackerError            TrackerKind = "error"
)

// TrackerItem is one recorded effect of a document run.
type TrackerItem struct {
	Kind      TrackerKind
	UserID    uint64
	RoleID    uint64
	ChannelID uint64
	MessageID uint64
	Content   string

	// Element and Err are set for TrackerError items.
	Element string
	Err     error
}

func (i TrackerItem) String() string {
	switch i.Kind {
	case TrackerBannedMember:
		return fmt.Sprintf("Banned <@%d>", i.UserID)
	case TrackerKickedMember:
		return fmt.Sprintf("Kicked <@%d>", i.UserID)
	case TrackerSyncedMember:
		return fmt.Sprintf("Synced <@%d>", i.UserID)
	case TrackerAssignedRole:
		return fmt.Sprintf("Assigned <@&%d> to <@%d>", i.RoleID, i.UserID)
	case TrackerRemovedRole:
		return fmt.Sprintf("Removed <@&%d> from <@%d>", i.RoleID, i.UserID)
	case TrackerReplied:
		return fmt.Sprintf("Replied to a message in <#%d>", i.ChannelID)
	case TrackerAddedReaction:
		return fmt.Sprintf("Reacted with %s in <#%d>", i.Content, i.ChannelID)
	case TrackerCreatedMessage:
		return fmt.Sprintf("Sent a message in <#%d>", i.ChannelID)
	case TrackerDeletedMessage:
		return fmt.Sprintf("Deleted a message in <#%d>", i.ChannelID)
	case TrackerStartedThread:
		return fmt.Sprintf("Started thread %q in <#%d>", i.Content, i.ChannelID)
	case TrackerInteractionReply:
		return "Replied to the interaction"
	case TrackerError:
		return fmt.Sprintf("Error in %s: %v", i.Element, i.Err)
	default:
		return string(i.Kind)
	}
}
