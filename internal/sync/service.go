// Package sync reconciles guild members against the sync actions configured
// by their server.
package sync

import (
	"context"
	"time"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/roblox"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BackgroundTimeout bounds documents started in the background after a sync.
const BackgroundTimeout = 5 * time.Minute

// PledgeLookup resolves the campaign memberships of a funding connection.
type PledgeLookup interface {
	UserMemberships(ctx context.Context, conn *types.Connection) ([]patreon.Pledge, error)
}

// DocumentRunner processes visual scripting documents for a member.
type DocumentRunner interface {
	RunMemberDocument(ctx context.Context, document *types.Document, member *types.Member, extra map[string]any)
}

// LogSink receives server log records.
type LogSink interface {
	Log(entry serverlog.ServerLog)
}

// Service runs member syncs.
type Service struct {
	cache   *cache.Cache
	members platform.Members
	roblox  roblox.Lookup
	patreon PledgeLookup
	logs    LogSink
	runner  DocumentRunner
	tracer  trace.Tracer
	logger  *zap.Logger

	background conc.WaitGroup
}

// NewService creates a sync service.
func NewService(
	cache *cache.Cache,
	members platform.Members,
	robloxLookup roblox.Lookup,
	pledges PledgeLookup,
	logs LogSink,
	logger *zap.Logger,
) *Service {
	return &Service{
		cache:   cache,
		members: members,
		roblox:  robloxLookup,
		patreon: pledges,
		logs:    logs,
		tracer:  otel.Tracer("mellow/sync"),
		logger:  logger.Named("sync"),
	}
}

// SetDocumentRunner sets the runner used for ExecuteDocument actions and the
// member synced document. The runner depends on the service, so it is set
// after construction.
func (s *Service) SetDocumentRunner(runner DocumentRunner) {
	s.runner = runner
}

// Wait blocks until documents started in the background have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

type documentStackKey struct{}

// WithRunningDocument returns a context recording that the document is being
// processed. Syncs started under it will not run the same document again.
func WithRunningDocument(ctx context.Context, document *types.Document) context.Context {
	stack, _ := ctx.Value(documentStackKey{}).([]*types.Document)
	return context.WithValue(ctx, documentStackKey{}, append(stack[:len(stack):len(stack)], document))
}

func isRunning(ctx context.Context, document *types.Document) bool {
	stack, _ := ctx.Value(documentStackKey{}).([]*types.Document)
	for _, running := range stack {
		if running.ID == document.ID {
			return true
		}
	}

	return false
}

