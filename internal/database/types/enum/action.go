package enum

// ActionKind represents the effect a sync action applies when its criteria are met.
type ActionKind int

const (
	// ActionKindAssignRoles adds roles when met and optionally removes them otherwise.
	ActionKindAssignRoles ActionKind = iota
	// ActionKindBanMember bans the member when met.
	ActionKindBanMember
	// ActionKindKickMember kicks the member when met.
	ActionKindKickMember
	// ActionKindCancelSync stops the sync without applying anything when met.
	ActionKindCancelSync
	// ActionKindExecuteDocument runs a visual scripting document when met.
	ActionKindExecuteDocument
)

func (k ActionKind) String() string {
	switch k {
	case ActionKindAssignRoles:
		return "AssignRoles"
	case ActionKindBanMember:
		return "BanMember"
	case ActionKindKickMember:
		return "KickMember"
	case ActionKindCancelSync:
		return "CancelSync"
	case ActionKindExecuteDocument:
		return "ExecuteDocument"
	default:
		return "Unknown"
	}
}
