// Package gateway handles chat platform gateway events.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// EventTimeout bounds the handling of a single event.
const EventTimeout = 5 * time.Minute

// DocumentRunner runs the document a server attached to an event.
type DocumentRunner interface {
	RunEvent(ctx context.Context, guildID uint64, kind types.EventKind, initial map[string]any) error
}

// InteractionHandler answers application commands.
type InteractionHandler interface {
	HandleInteraction(ctx context.Context, interaction *types.Interaction) error
}

// LogSink receives server log records.
type LogSink interface {
	Log(entry serverlog.ServerLog)
}

// Dispatcher runs every gateway event in its own goroutine. Handler errors
// are logged and dropped.
type Dispatcher struct {
	cache        *cache.Cache
	documents    DocumentRunner
	interactions InteractionHandler
	logs         LogSink
	logger       *zap.Logger

	requests   *MemberRequests
	onboarding *OnboardingTimer
	pending    *xsync.MapOf[types.MemberKey, struct{}]

	tasks sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	c *cache.Cache,
	p platform.Platform,
	documents DocumentRunner,
	logs LogSink,
	logger *zap.Logger,
) *Dispatcher {
	d := &Dispatcher{
		cache:     c,
		documents: documents,
		logs:      logs,
		logger:    logger.Named("gateway"),
		requests:  NewMemberRequests(p, c, DefaultMemberRequestTimeout),
		pending:   xsync.NewMapOf[types.MemberKey, struct{}](),
	}

	d.onboarding = NewOnboardingTimer(d.completeOnboarding)

	return d
}

// SetInteractionHandler sets the handler of application commands.
func (d *Dispatcher) SetInteractionHandler(handler InteractionHandler) {
	d.interactions = handler
}

// Requests returns the member request table.
func (d *Dispatcher) Requests() *MemberRequests {
	return d.requests
}

// SetMemberRequestTimeout bounds the wait for member chunks. It must be called
// before the gateway is opened.
func (d *Dispatcher) SetMemberRequestTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.requests.timeout = timeout
	}
}

// Onboarding returns the onboarding timer. Its Run loop is started by the caller.
func (d *Dispatcher) Onboarding() *OnboardingTimer {
	return d.onboarding
}

// Wait blocks until in-flight events are handled.
func (d *Dispatcher) Wait() {
	d.tasks.Wait()
}

// Dispatch implements platform.Handler.
func (d *Dispatcher) Dispatch(event platform.Event) {
	telemetry.GatewayEvents.WithLabelValues(event.Name()).Inc()

	d.tasks.Add(1)

	go func() {
		defer d.tasks.Done()

		ctx, cancel := context.WithTimeout(context.Background(), EventTimeout)
		defer cancel()

		var catcher panics.Catcher

		catcher.Try(func() {
			if err := d.handle(ctx, event); err != nil {
				d.logger.Error("Failed to handle event", zap.Error(err), zap.String("event", event.Name()))
			}
		})

		if recovered := catcher.Recovered(); recovered != nil {
			d.logger.Error("Event handler panicked",
				zap.String("event", event.Name()),
				zap.Error(recovered.AsError()))
		}
	}()
}

func (d *Dispatcher) handle(ctx context.Context, event platform.Event) error {
	switch e := event.(type) {
	case *platform.ReadyEvent:
		return d.handleReady(ctx, e)
	case *platform.GuildCreateEvent:
		return d.handleGuildCreate(ctx, e)
	case *platform.GuildUpdateEvent:
		guild := e.Guild
		d.cache.Guilds.Insert(guild.ID, &guild)
	case *platform.GuildDeleteEvent:
		d.cache.ForgetGuild(e.GuildID)
	case *platform.MemberAddEvent:
		return d.handleMemberAdd(ctx, e)
	case *platform.MemberUpdateEvent:
		return d.handleMemberUpdate(ctx, e)
	case *platform.MemberRemoveEvent:
		key := types.MemberKey{GuildID: e.GuildID, UserID: e.UserID}
		d.cache.Members.Remove(key)
		d.pending.Delete(key)
		d.onboarding.Remove(key)
	case *platform.MemberChunkEvent:
		d.handleMemberChunk(e)
	case *platform.MessageCreateEvent:
		return d.handleMessageCreate(ctx, e)
	case *platform.RoleUpsertEvent:
		role := e.Role
		d.cache.Roles.Insert(types.RoleKey{GuildID: role.GuildID, RoleID: role.ID}, &role)
	case *platform.RoleDeleteEvent:
		d.cache.Roles.Remove(types.RoleKey{GuildID: e.GuildID, RoleID: e.RoleID})
	case *platform.InteractionEvent:
		if d.interactions == nil {
			return nil
		}

		return d.interactions.HandleInteraction(ctx, &e.Interaction)
	default:
		d.logger.Debug("Ignoring event", zap.String("event", event.Name()))
	}

	return nil
}
