// Package handler implements the admin API routes.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/commands"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/database/types/enum"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/rest/middleware/auth"
	restTypes "github.com/mellow-sync/mellow/internal/rest/types"
	"github.com/mellow-sync/mellow/internal/serverlog"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// ErrBadRequest wraps request decoding and validation failures.
var ErrBadRequest = errors.New("invalid request")

// Syncer runs member syncs.
type Syncer interface {
	SyncAndLog(ctx context.Context, req memberSync.Request) (*memberSync.Result, error)
}

// CommandService completes sign-ups and registers commands.
type CommandService interface {
	SyncWithToken(ctx context.Context, guildID, userID uint64) (*memberSync.Result, error)
	ReportSync(ctx context.Context, token string, result *memberSync.Result)
	RegisterAll(ctx context.Context) error
}

// UserDirectory finds the users behind external accounts.
type UserDirectory interface {
	GetConnectionsBySub(ctx context.Context, kind enum.ConnectionKind, sub string) ([]*types.Connection, error)
	GetConnections(ctx context.Context, userIDs []uuid.UUID) ([]*types.Connection, error)
	GetServerIDsForUser(ctx context.Context, userID uuid.UUID) ([]uint64, error)
}

// IdentityCache drops cached funding identities.
type IdentityCache interface {
	ForgetIdentity(grant *types.OAuthAuthorisation)
}

// LogSink receives server log records.
type LogSink interface {
	Log(entry serverlog.ServerLog)
}

// Dependencies are the services the routes call into.
type Dependencies struct {
	Cache      *cache.Cache
	Syncer     Syncer
	Commands   CommandService
	Users      UserDirectory
	Identities IdentityCache
	Logs       LogSink

	Version              string
	PatreonWebhookSecret string
}

// Handler serves the admin routes.
type Handler struct {
	deps     Dependencies
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a route handler.
func New(deps Dependencies, logger *zap.Logger) *Handler {
	return &Handler{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Status reports liveness.
func (h *Handler) Status(w http.ResponseWriter, _ bunrouter.Request) error {
	return bunrouter.JSON(w, restTypes.StatusResponse{Name: "mellow", Version: h.deps.Version})
}

// UpdateCommands re-registers every application command.
func (h *Handler) UpdateCommands(w http.ResponseWriter, req bunrouter.Request) error {
	if err := h.deps.Commands.RegisterAll(req.Context()); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)

	return nil
}

// readBody reads a bounded request body.
func readBody(req bunrouter.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	return body, nil
}

// decode parses and validates a JSON body. An empty body leaves v untouched.
func (h *Handler) decode(body []byte, v any) error {
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, v); err != nil {
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	}

	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	return nil
}

// StatusCode maps a route error to its HTTP status.
func StatusCode(err error) int {
	var invalidConnection *patreon.ConnectionInvalidError

	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, patreon.ErrInvalidSignature),
		errors.As(err, &invalidConnection):
		return http.StatusForbidden
	case errors.Is(err, types.ErrUserNotFound),
		errors.Is(err, types.ErrServerNotFound),
		errors.Is(err, commands.ErrSignUpNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler turns errors returned by routes into JSON error bodies.
func (h *Handler) ErrorHandler(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		err := next(w, req)
		if err == nil {
			return nil
		}

		status := StatusCode(err)
		message := err.Error()

		if status == http.StatusInternalServerError {
			h.logger.Error("Request failed",
				zap.Error(err),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path))

			message = "internal server error"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		return bunrouter.JSON(w, restTypes.ErrorResponse{Error: message})
	}
}
