// Package roblox resolves the group roles of game-platform accounts.
package roblox

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jaxron/roapi.go/pkg/api"
	"github.com/jaxron/roapi.go/pkg/api/resources/groups"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrExternalAPI is returned when the game platform could not be queried.
	ErrExternalAPI = errors.New("roblox api request failed")
	// ErrInvalidSubject is returned for connection subjects that are not numeric user ids.
	ErrInvalidSubject = errors.New("invalid roblox user id")
)

// GroupRole is the role a user holds in one group.
type GroupRole struct {
	GroupID  uint64 `json:"group_id"`
	RoleID   uint64 `json:"role_id"`
	RoleName string `json:"role_name"`
	Rank     uint64 `json:"rank"`
}

// Lookup resolves group roles by connection subject.
type Lookup interface {
	UserGroupRoles(ctx context.Context, subject string) ([]GroupRole, error)
}

// Client looks up group memberships through the Roblox groups API.
type Client struct {
	roAPI  *api.API
	logger *zap.Logger
}

// NewClient creates a Client with the provided API client and logger.
func NewClient(roAPI *api.API, logger *zap.Logger) *Client {
	return &Client{
		roAPI:  roAPI,
		logger: logger.Named("roblox"),
	}
}

// UserGroupRoles returns every group the user is a member of with their role.
func (c *Client) UserGroupRoles(ctx context.Context, subject string) ([]GroupRole, error) {
	userID, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}

	ctx, span := otel.Tracer("mellow/roblox").Start(ctx, "roblox.UserGroupRoles")
	span.SetAttributes(attribute.Int64("roblox.user_id", int64(userID))) //nolint:gosec // user ids fit in int64
	defer span.End()

	builder := groups.NewUserGroupRolesBuilder(userID)

	response, err := c.roAPI.Groups().GetUserGroupRoles(ctx, builder.Build())
	if err != nil {
		telemetry.ExternalRequests.WithLabelValues("roblox", "error").Inc()
		span.RecordError(err)

		return nil, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}

	telemetry.ExternalRequests.WithLabelValues("roblox", "ok").Inc()

	roles := make([]GroupRole, 0, len(response.Data))
	for _, group := range response.Data {
		roles = append(roles, GroupRole{
			GroupID:  group.Group.ID,
			RoleID:   group.Role.ID,
			RoleName: group.Role.Name,
			Rank:     group.Role.Rank,
		})
	}

	c.logger.Debug("Fetched user group roles",
		zap.Uint64("userID", userID),
		zap.Int("totalGroups", len(roles)))

	return roles, nil
}
