package enum

// GrantOwner identifies the table an OAuth grant is stored in.
type GrantOwner int

const (
	// GrantOwnerConnection marks grants attached to a user connection.
	GrantOwnerConnection GrantOwner = iota
	// GrantOwnerServer marks grants attached to a server.
	GrantOwnerServer
)

// Table returns the table holding grants of this owner.
func (o GrantOwner) Table() string {
	if o == GrantOwnerServer {
		return "mellow_server_oauth_authorisations"
	}

	return "user_connection_oauth_authorisations"
}

// Column returns the column referencing the owner row.
func (o GrantOwner) Column() string {
	if o == GrantOwnerServer {
		return "server_id"
	}

	return "connection_id"
}
