package patreon

import (
	"errors"
	"fmt"

	"github.com/mellow-sync/mellow/internal/database/types/enum"
)

var (
	// ErrConnectionRefresh is returned when a grant could not be refreshed for a
	// reason other than revoked access. Callers may retry later.
	ErrConnectionRefresh = errors.New("failed to refresh connection")
	// ErrNoAuthorisation is returned for connections without a stored grant.
	ErrNoAuthorisation = errors.New("connection has no authorisation")
	// ErrNoCampaign is returned when the creator grant owns no campaign.
	ErrNoCampaign = errors.New("no campaign linked to authorisation")
	// ErrInvalidSignature is returned when a webhook signature does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ConnectionInvalidError reports that the user must reconnect an account.
type ConnectionInvalidError struct {
	Kind enum.ConnectionKind
}

func (e *ConnectionInvalidError) Error() string {
	return fmt.Sprintf("%s connection is no longer valid, please reconnect it", e.Kind)
}

// APIError is an unexpected response from the funding provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("patreon api returned status %d: %s", e.Status, e.Body)
}
