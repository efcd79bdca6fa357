// Package visual runs the visual scripting documents servers attach to events
// and custom commands.
package visual

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"go.uber.org/zap"
)

var (
	// ErrNoLinkedCampaign is returned when the server has no funding grant.
	ErrNoLinkedCampaign = errors.New("server has no linked campaign")
	// ErrInvalidID is returned when an element holds a malformed identifier.
	ErrInvalidID = errors.New("invalid identifier")
)

// MemberSyncer syncs a member on behalf of a document.
type MemberSyncer interface {
	SyncAndLog(ctx context.Context, req memberSync.Request) (*memberSync.Result, error)
}

// CampaignLookup resolves the campaign behind a server's funding grant.
type CampaignLookup interface {
	Campaign(ctx context.Context, grant *types.OAuthAuthorisation) (*patreon.Campaign, error)
}

// Processor executes documents.
type Processor struct {
	platform  platform.Platform
	cache     *cache.Cache
	syncer    MemberSyncer
	campaigns CampaignLookup
	logs      memberSync.LogSink
	logger    *zap.Logger
}

// NewProcessor creates a document processor.
func NewProcessor(
	p platform.Platform,
	c *cache.Cache,
	syncer MemberSyncer,
	campaigns CampaignLookup,
	logs memberSync.LogSink,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		platform:  p,
		cache:     c,
		syncer:    syncer,
		campaigns: campaigns,
		logs:      logs,
		logger:    logger.Named("visual"),
	}
}

// RunEvent runs the server's ready document for the event, if any.
func (p *Processor) RunEvent(ctx context.Context, guildID uint64, kind types.EventKind, initial map[string]any) error {
	document, err := p.cache.ServerDocument(ctx, guildID, kind)
	if err != nil {
		return fmt.Errorf("failed to get %s document: %w", kind, err)
	}

	if document == nil {
		return nil
	}

	p.Process(ctx, document, NewVariables(initial))

	return nil
}

// RunMemberDocument runs a document with the member bound.
func (p *Processor) RunMemberDocument(
	ctx context.Context, document *types.Document, member *types.Member, extra map[string]any,
) {
	vars := NewVariables(MemberEnvironment(member))
	for key, value := range extra {
		vars.Set(key, value)
	}

	p.Process(ctx, document, vars)
}

// Process executes the document and posts what it did to the server log.
// Element failures end the run and are recorded rather than returned.
func (p *Processor) Process(ctx context.Context, document *types.Document, vars *Variables) []serverlog.TrackerItem {
	telemetry.DocumentRuns.WithLabelValues(string(document.Kind)).Inc()

	ctx = memberSync.WithRunningDocument(ctx, document)
	run := &execution{processor: p, document: document, vars: vars}

	for element := range elements(document.Definition, vars, p.logger) {
		stop, err := run.execute(ctx, element)
		if err != nil {
			telemetry.ElementFailures.WithLabelValues(string(element.Kind)).Inc()
			p.logger.Warn("Document element failed",
				zap.Error(err),
				zap.String("document_id", document.ID.String()),
				zap.String("element", string(element.Kind)))

			run.track(serverlog.TrackerItem{Kind: serverlog.TrackerError, Element: string(element.Kind), Err: err})

			break
		}

		if stop {
			break
		}
	}

	if len(run.items) > 0 && p.logs != nil {
		var userID *uint64
		if id, ok := vars.ID("member.id"); ok {
			userID = &id
		}

		p.logs.Log(&serverlog.VisualScriptingProcessorTrace{
			Server:       document.ServerID,
			DocumentID:   document.ID,
			DocumentName: document.Name,
			UserID:       userID,
			Items:        run.items,
		})
	}

	return run.items
}

// execution is the state of one document run.
type execution struct {
	processor *Processor
	document  *types.Document
	vars      *Variables
	items     []serverlog.TrackerItem
}

func (e *execution) track(item serverlog.TrackerItem) {
	e.items = append(e.items, item)
}

func (e *execution) guildID() uint64 {
	if id, ok := e.vars.ID("guild_id"); ok {
		return id
	}

	return e.document.ServerID
}

// execute runs one element and reports whether the stream must stop.
// Elements whose inputs are not bound are skipped.
func (e *execution) execute(ctx context.Context, element types.Element) (bool, error) {
	p := e.processor

	switch element.Kind {
	case types.ElementBanMember, types.ElementKickMember:
		userID, ok := e.vars.ID("member.id")
		if !ok {
			return false, nil
		}

		reason := e.vars.Render(element.Content)

		if element.Kind == types.ElementBanMember {
			if err := p.platform.BanMember(ctx, e.guildID(), userID, reason); err != nil {
				return false, err
			}

			e.track(serverlog.TrackerItem{Kind: serverlog.TrackerBannedMember, UserID: userID})
		} else {
			if err := p.platform.KickMember(ctx, e.guildID(), userID, reason); err != nil {
				return false, err
			}

			e.track(serverlog.TrackerItem{Kind: serverlog.TrackerKickedMember, UserID: userID})
		}

		return true, nil

	case types.ElementSyncMember:
		userID, ok := e.vars.ID("member.id")
		if !ok {
			return false, nil
		}

		if _, err := p.syncer.SyncAndLog(ctx, memberSync.Request{
			GuildID:           e.guildID(),
			UserID:            userID,
			AllowUnregistered: true,
		}); err != nil {
			return false, err
		}

		e.track(serverlog.TrackerItem{Kind: serverlog.TrackerSyncedMember, UserID: userID})

	case types.ElementAssignRole, types.ElementRemoveRole:
		userID, ok := e.vars.ID("member.id")
		if !ok {
			return false, nil
		}

		roleID, err := parseID(element.RoleID)
		if err != nil {
			return false, err
		}

		reason := "Document " + e.document.Name

		if element.Kind == types.ElementAssignRole {
			if err := p.platform.AddRole(ctx, e.guildID(), userID, roleID, reason); err != nil {
				return false, err
			}

			e.track(serverlog.TrackerItem{Kind: serverlog.TrackerAssignedRole, UserID: userID, RoleID: roleID})
		} else {
			if err := p.platform.RemoveRole(ctx, e.guildID(), userID, roleID, reason); err != nil {
				return false, err
			}

			e.track(serverlog.TrackerItem{Kind: serverlog.TrackerRemovedRole, UserID: userID, RoleID: roleID})
		}

	case types.ElementReply, types.ElementAddReaction, types.ElementDeleteMessage, types.ElementStartThread:
		return false, e.executeMessage(ctx, element)

	case types.ElementCreateMessage:
		channelID, err := parseID(element.ChannelID)
		if err != nil {
			return false, err
		}

		content := e.vars.Render(element.Content)

		if _, err := p.platform.CreateMessage(ctx, channelID, content); err != nil {
			return false, err
		}

		e.track(serverlog.TrackerItem{Kind: serverlog.TrackerCreatedMessage, ChannelID: channelID, Content: content})

	case types.ElementInteractionReply:
		token, ok := e.vars.String("interaction_token")
		if !ok {
			return false, nil
		}

		if err := p.platform.CreateFollowup(ctx, token, e.vars.Render(element.Content), false); err != nil {
			return false, err
		}

		e.track(serverlog.TrackerItem{Kind: serverlog.TrackerInteractionReply})

	case types.ElementGetLinkedCampaign:
		return false, e.bindCampaign(ctx)

	case types.ElementComment, types.ElementNothing, types.ElementRoot, types.ElementIfStatement:
	}

	return false, nil
}

// executeMessage runs the elements acting on the message that triggered the run.
func (e *execution) executeMessage(ctx context.Context, element types.Element) error {
	p := e.processor

	channelID, ok := e.vars.ID("message.channel_id")
	if !ok {
		return nil
	}

	messageID, ok := e.vars.ID("message.id")
	if !ok {
		return nil
	}

	content := e.vars.Render(element.Content)
	item := serverlog.TrackerItem{ChannelID: channelID, MessageID: messageID, Content: content}

	var err error

	switch element.Kind {
	case types.ElementReply:
		item.Kind = serverlog.TrackerReplied
		_, err = p.platform.Reply(ctx, channelID, messageID, content)
	case types.ElementAddReaction:
		item.Kind = serverlog.TrackerAddedReaction
		err = p.platform.AddReaction(ctx, channelID, messageID, content)
	case types.ElementDeleteMessage:
		item.Kind = serverlog.TrackerDeletedMessage
		err = p.platform.DeleteMessage(ctx, channelID, messageID)
	case types.ElementStartThread:
		item.Kind = serverlog.TrackerStartedThread
		err = p.platform.StartThread(ctx, channelID, messageID, content)
	}

	if err != nil {
		return err
	}

	e.track(item)

	return nil
}

// bindCampaign binds "campaign" to the campaign linked to the server.
func (e *execution) bindCampaign(ctx context.Context) error {
	p := e.processor

	server, err := p.cache.Server(ctx, e.guildID())
	if err != nil {
		return err
	}

	if len(server.Authorisations) == 0 || p.campaigns == nil {
		return ErrNoLinkedCampaign
	}

	campaign, err := p.campaigns.Campaign(ctx, server.Authorisations[0])
	if err != nil {
		return err
	}

	tiers := make([]any, len(campaign.Tiers))
	for i, tier := range campaign.Tiers {
		tiers[i] = map[string]any{"id": tier.ID, "patron_count": tier.PatronCount}
	}

	e.vars.Set("campaign", map[string]any{"id": campaign.ID, "tiers": tiers})

	return nil
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}

	return id, nil
}
