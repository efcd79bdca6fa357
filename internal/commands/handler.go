// Package commands answers application command interactions: the built-in
// commands and the custom commands servers attach documents to.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/serverlog"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/mellow-sync/mellow/internal/visual"
	"github.com/redis/rueidis"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	// DefaultSignUpURL is where unregistered members are sent. %d is the guild id.
	DefaultSignUpURL = "https://www.hakumi.cafe/mellow/server/%d/onboarding"

	// taskTimeout bounds work started from a deferred reply.
	taskTimeout = 10 * time.Minute
)

// Syncer runs member syncs.
type Syncer interface {
	SyncAndLog(ctx context.Context, req memberSync.Request) (*memberSync.Result, error)
}

// DocumentProcessor runs custom command documents.
type DocumentProcessor interface {
	Process(ctx context.Context, document *types.Document, vars *visual.Variables) []serverlog.TrackerItem
}

// ServerStore persists servers and lists what commands need from them.
type ServerStore interface {
	Create(ctx context.Context, id uint64) (*types.Server, error)
	GetRegisteredMembers(ctx context.Context, serverID uint64) ([]uint64, error)
	GetAllCommands(ctx context.Context) ([]*types.ServerCommand, error)
}

// MemberFetcher loads many guild members at once.
type MemberFetcher interface {
	Members(ctx context.Context, guildID uint64, userIDs []uint64) ([]*types.Member, error)
}

// Options configures a Handler.
type Options struct {
	Platform  platform.Interactions
	Cache     *cache.Cache
	Syncer    Syncer
	Documents DocumentProcessor
	Servers   ServerStore
	Members   MemberFetcher
	// Locks holds the per-guild forcesyncall lock. Nil disables locking.
	Locks rueidis.Client

	SignUpURL string
	// MutationInterval spaces out profile changes made by forcesyncall.
	MutationInterval time.Duration
}

// Handler dispatches application commands.
type Handler struct {
	platform  platform.Interactions
	cache     *cache.Cache
	syncer    Syncer
	documents DocumentProcessor
	servers   ServerStore
	members   MemberFetcher
	locks     rueidis.Client
	signUps   *SignUpStore
	registry  map[string]*Command
	logger    *zap.Logger

	signUpURL        string
	mutationInterval time.Duration

	tasks conc.WaitGroup
}

// NewHandler creates a command handler with the built-in commands registered.
func NewHandler(opts Options, logger *zap.Logger) *Handler {
	h := &Handler{
		platform:         opts.Platform,
		cache:            opts.Cache,
		syncer:           opts.Syncer,
		documents:        opts.Documents,
		servers:          opts.Servers,
		members:          opts.Members,
		locks:            opts.Locks,
		signUps:          NewSignUpStore(),
		logger:           logger.Named("commands"),
		signUpURL:        opts.SignUpURL,
		mutationInterval: opts.MutationInterval,
	}

	if h.signUpURL == "" {
		h.signUpURL = DefaultSignUpURL
	}

	if h.mutationInterval <= 0 {
		h.mutationInterval = time.Second
	}

	h.registry = make(map[string]*Command)
	for _, command := range h.builtins() {
		h.registry[command.Spec.Name] = command
	}

	return h
}

// SignUps returns the pending sign-up store.
func (h *Handler) SignUps() *SignUpStore {
	return h.signUps
}

// Wait blocks until deferred command work has finished.
func (h *Handler) Wait() {
	h.tasks.Wait()
}

// HandleInteraction implements gateway.InteractionHandler. Custom commands of
// the guild take precedence over built-in commands of the same name.
func (h *Handler) HandleInteraction(ctx context.Context, interaction *types.Interaction) error {
	if interaction.GuildID != 0 {
		handled, err := h.runCustomCommand(ctx, interaction)
		if err != nil || handled {
			return err
		}
	}

	command, ok := h.registry[interaction.CommandName]
	if !ok {
		h.logger.Warn("Unknown command",
			zap.String("command", interaction.CommandName),
			zap.Uint64("guild_id", interaction.GuildID))

		return h.platform.RespondInteraction(ctx, interaction, "This command does not exist anymore.", true)
	}

	if command.GuildOnly && interaction.GuildID == 0 {
		return h.platform.RespondInteraction(ctx, interaction, "This command can only be used in a server.", true)
	}

	if command.ManageGuild && !interaction.CanManageGuild {
		return h.platform.RespondInteraction(ctx, interaction, "You need the Manage Server permission to use this.", true)
	}

	return command.Handle(ctx, interaction)
}

// runCustomCommand runs the document behind a custom command. Returns false
// when the guild has no command with that name.
func (h *Handler) runCustomCommand(ctx context.Context, interaction *types.Interaction) (bool, error) {
	resolved, err := h.cache.CommandDocument(ctx, interaction.GuildID, interaction.CommandName)
	if err != nil {
		// Built-in commands still work while custom commands cannot be loaded
		h.logger.Error("Failed to resolve custom command",
			zap.Error(err),
			zap.String("command", interaction.CommandName),
			zap.Uint64("guild_id", interaction.GuildID))

		return false, nil
	}

	if resolved == nil {
		return false, nil
	}

	if !resolved.Document.IsReady() {
		return true, h.platform.RespondInteraction(ctx, interaction, "This command is not ready yet.", true)
	}

	if err := h.platform.DeferInteraction(ctx, interaction, resolved.Command.IsEphemeral); err != nil {
		return true, fmt.Errorf("failed to defer command: %w", err)
	}

	initial := map[string]any{
		"guild_id":          fmt.Sprint(interaction.GuildID),
		"interaction_token": interaction.Token,
	}
	if interaction.Member != nil {
		initial["member"] = visual.MemberVariables(interaction.Member)
	}

	h.spawn(func(ctx context.Context) {
		h.documents.Process(ctx, resolved.Document, visual.NewVariables(initial))
	})

	return true, nil
}

// spawn runs deferred work detached from the interaction context.
func (h *Handler) spawn(fn func(ctx context.Context)) {
	h.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		fn(ctx)
	})
}

// editResponse completes a deferred reply, logging failures.
func (h *Handler) editResponse(ctx context.Context, token, content string) {
	if err := h.platform.EditInteractionResponse(ctx, token, content); err != nil {
		h.logger.Error("Failed to edit interaction response", zap.Error(err))
	}
}

// RegisterAll installs the built-in commands globally and each server's
// custom commands in its guild.
func (h *Handler) RegisterAll(ctx context.Context) error {
	specs := make([]platform.CommandSpec, 0, len(h.registry))
	for _, command := range h.builtins() {
		specs = append(specs, command.Spec)
	}

	if err := h.platform.SetGlobalCommands(ctx, specs); err != nil {
		return fmt.Errorf("failed to register global commands: %w", err)
	}

	commands, err := h.servers.GetAllCommands(ctx)
	if err != nil {
		return err
	}

	byGuild := make(map[uint64][]platform.CommandSpec)
	for _, command := range commands {
		byGuild[command.ServerID] = append(byGuild[command.ServerID], platform.CommandSpec{
			Name:        command.Name,
			Description: commandDescription(command),
			Kind:        types.CommandKindSlash,
		})
	}

	var errs []error
	for guildID, specs := range byGuild {
		if err := h.platform.SetGuildCommands(ctx, guildID, specs); err != nil {
			errs = append(errs, fmt.Errorf("guild %d: %w", guildID, err))
		}
	}

	h.logger.Info("Registered commands",
		zap.Int("global", len(h.registry)),
		zap.Int("guilds", len(byGuild)),
		zap.Int("failed", len(errs)))

	return errors.Join(errs...)
}

func commandDescription(command *types.ServerCommand) string {
	if command.Description != "" {
		return command.Description
	}

	return "Custom command"
}
