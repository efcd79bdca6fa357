package types

// RoleChangeKind tells whether a role was granted or taken away.
type RoleChangeKind int

const (
	RoleAdded RoleChangeKind = iota
	RoleRemoved
)

func (k RoleChangeKind) String() string {
	if k == RoleRemoved {
		return "removed"
	}

	return "added"
}

// RoleChange is one role difference applied to a member.
type RoleChange struct {
	Kind   RoleChangeKind `json:"kind"`
	RoleID uint64         `json:"role_id"`
}

// NicknameChange is a nickname difference applied to a member.
type NicknameChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// MemberStatus is the state of a member after a sync.
type MemberStatus int

const (
	MemberStatusOK MemberStatus = iota
	MemberStatusBanned
	MemberStatusKicked
)

func (s MemberStatus) String() string {
	switch s {
	case MemberStatusBanned:
		return "banned"
	case MemberStatusKicked:
		return "kicked"
	default:
		return "ok"
	}
}
