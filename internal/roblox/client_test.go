package roblox_test

import (
	"testing"

	"github.com/mellow-sync/mellow/internal/roblox"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUserGroupRolesInvalidSubject(t *testing.T) {
	t.Parallel()

	client := roblox.NewClient(nil, zap.NewNop())

	for _, subject := range []string{"", "abc", "-5"} {
		_, err := client.UserGroupRoles(t.Context(), subject)
		require.ErrorIs(t, err, roblox.ErrInvalidSubject, subject)
	}
}
