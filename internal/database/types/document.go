package types

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrDocumentNotFound = errors.New("document not found")

// EventKind is the event a visual scripting document reacts to.
type EventKind string

const (
	EventMemberJoin                EventKind = "discord.member_join"
	EventMemberCompletedOnboarding EventKind = "discord.member_completed_onboarding"
	EventMemberUpdated             EventKind = "discord.member_updated"
	EventMessageCreated            EventKind = "discord.message_created"
	EventMemberSynced              EventKind = "mellow.member_synced"
	EventCustomCommand             EventKind = "mellow.command"
)

// Document is a persisted visual scripting document.
type Document struct {
	bun.BaseModel `bun:"table:visual_scripting_documents,alias:vsd"`

	ID         uuid.UUID `bun:",pk,type:uuid"          json:"id"`
	ServerID   uint64    `bun:",notnull"               json:"mellow_server_id"`
	Name       string    `bun:",notnull"               json:"name"`
	Kind       EventKind `bun:",notnull"               json:"kind"`
	Active     bool      `bun:",notnull,default:false" json:"active"`
	Definition []Element `bun:"type:jsonb,notnull"     json:"definition"`
}

// IsReady reports whether the document should run.
func (d *Document) IsReady() bool {
	return d != nil && d.Active && len(d.Definition) > 0
}

// ElementKind is the discriminator of a document element.
type ElementKind string

const (
	ElementBanMember         ElementKind = "action.mellow.member.ban"
	ElementKickMember        ElementKind = "action.mellow.member.kick"
	ElementSyncMember        ElementKind = "action.mellow.member.sync"
	ElementAssignRole        ElementKind = "action.mellow.member.roles.assign"
	ElementRemoveRole        ElementKind = "action.mellow.member.roles.remove"
	ElementReply             ElementKind = "action.mellow.message.reply"
	ElementAddReaction       ElementKind = "action.mellow.message.reaction.create"
	ElementCreateMessage     ElementKind = "action.mellow.message.create"
	ElementDeleteMessage     ElementKind = "action.mellow.message.delete"
	ElementStartThread       ElementKind = "action.mellow.message.thread.create"
	ElementInteractionReply  ElementKind = "action.mellow.interaction.reply"
	ElementGetLinkedCampaign ElementKind = "get_data.mellow.server.current_patreon_campaign"
	ElementIfStatement       ElementKind = "statement.if"
	ElementComment           ElementKind = "special.comment"
	ElementNothing           ElementKind = "no_op.nothing"
	ElementRoot              ElementKind = "special.root"
)

// Element is one node of a document. Only the fields relevant to Kind are set.
type Element struct {
	Kind      ElementKind      `json:"kind"`
	Content   Text             `json:"content,omitempty"`
	RoleID    string           `json:"role_id,omitempty"`
	ChannelID string           `json:"channel_id,omitempty"`
	Blocks    []StatementBlock `json:"blocks,omitempty"`
}

// TextSegment is either a literal value or a variable reference.
type TextSegment struct {
	Value    string `json:"value,omitempty"`
	Variable string `json:"variable,omitempty"`
}

// Text is a template made of literal and variable segments.
type Text []TextSegment

// Literal returns a text holding a single literal segment.
func Literal(value string) Text {
	return Text{{Value: value}}
}

// Resolve renders the text, looking variables up through resolve.
// Unresolvable variables render as empty strings.
func (t Text) Resolve(resolve func(path string) (string, bool)) string {
	var sb strings.Builder

	for _, segment := range t {
		if segment.Variable == "" {
			sb.WriteString(segment.Value)
			continue
		}

		if value, ok := resolve(segment.Variable); ok {
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// StatementBlock is one branch of an if statement.
type StatementBlock struct {
	Conditions []StatementCondition `json:"conditions"`
	Items      []Element            `json:"items"`
}

// Combinator joins a condition to the running result.
type Combinator string

const (
	CombinatorInitial Combinator = "initial"
	CombinatorAnd     Combinator = "and"
	CombinatorOr      Combinator = "or"
)

// ConditionKind is the comparison a statement condition performs.
type ConditionKind string

const (
	ConditionIs                  ConditionKind = "is"
	ConditionIsNot               ConditionKind = "is_not"
	ConditionHasAnyValue         ConditionKind = "has_any_value"
	ConditionDoesNotHaveAnyValue ConditionKind = "does_not_have_any_value"
	ConditionContains            ConditionKind = "contains"
	ConditionDoesNotContain      ConditionKind = "does_not_contain"
	ConditionContainsOnly        ConditionKind = "contains_only"
	ConditionContainsOneOf       ConditionKind = "contains_one_of"
	ConditionDoesNotContainOneOf ConditionKind = "does_not_contain_one_of"
	ConditionBeginsWith          ConditionKind = "begins_with"
	ConditionEndsWith            ConditionKind = "ends_with"
)

// StatementCondition compares InputA against InputB.
type StatementCondition struct {
	Combinator Combinator    `json:"combinator"`
	Condition  ConditionKind `json:"condition"`
	InputA     Operand       `json:"input_a"`
	InputB     *Operand      `json:"input_b,omitempty"`
}

// Operand is either a variable reference path or a literal match value.
type Operand struct {
	Variable string `json:"variable,omitempty"`
	Value    any    `json:"value,omitempty"`
}
