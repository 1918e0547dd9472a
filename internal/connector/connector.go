package connector

import (
	"context"

	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Platform is the chat platform surface ticket handling depends on.
// Implementations translate these calls into Discord or Slack primitives.
type Platform interface {
	// Name returns the platform type (e.g., "discord", "slack").
	Name() string
	// CreateChannel creates a ticket channel visible only to the owner,
	// the staff role and the bot.
	CreateChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	// DeleteChannel removes (or archives) a ticket channel.
	DeleteChannel(ctx context.Context, channelID string) error
	// SendMessage posts a message and returns its platform ID.
	SendMessage(ctx context.Context, channelID string, msg OutboundMessage) (string, error)
	// EditMessage replaces the content of a previously sent message.
	EditMessage(ctx context.Context, channelID, messageID string, msg OutboundMessage) error
	// FetchHistory returns up to limit messages, oldest first.
	FetchHistory(ctx context.Context, channelID string, limit int) ([]protocol.Message, error)
	// IsStaff reports whether the user holds the staff capability.
	IsStaff(ctx context.Context, userID string) (bool, error)
}

// Connector is a Platform that also runs an event loop.
type Connector interface {
	Platform
	// SetHandler installs the receiver of inbound events. Call before Start.
	SetHandler(h Handler)
	// Start begins listening for events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// Handler receives inbound platform events.
type Handler interface {
	HandleCreate(ctx context.Context, req CreateRequest)
	HandleAction(ctx context.Context, ev ActionEvent)
	HandleMessage(ctx context.Context, msg protocol.Message)
}

// ChannelSpec describes a ticket channel to create.
type ChannelSpec struct {
	Name        string
	Topic       string
	OwnerUserID string
}

// Channel identifies a created channel.
type Channel struct {
	ID   string
	Name string
}

// OutboundMessage is a message sent to a ticket or audit channel.
type OutboundMessage struct {
	Content string   // Message text (Markdown)
	Embed   *Embed   // Optional rich card
	Buttons []Button // Optional action buttons
}

// Embed is a platform-neutral rich card.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
}

// EmbedField is one name/value row of an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Field returns the value of the named field, if present.
func (e *Embed) Field(name string) (string, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Action is a button-style ticket action.
type Action string

const (
	ActionClaim Action = "claim_ticket"
	ActionClose Action = "close_ticket"
)

// ParseAction maps a button ID or short name to an Action.
func ParseAction(s string) (Action, bool) {
	switch s {
	case string(ActionClaim), "claim":
		return ActionClaim, true
	case string(ActionClose), "close":
		return ActionClose, true
	}
	return "", false
}

// Button renders an Action.
type Button struct {
	Action Action
	Label  string
	Danger bool
}

// Responder delivers a private reply to the actor that triggered an event.
// It may be nil when the trigger has no interactive user (e.g. webhooks).
type Responder func(text string)

// CreateRequest asks for a new ticket.
type CreateRequest struct {
	UserID   string
	UserName string
	Type     protocol.TicketType
	Respond  Responder
}

// ActionEvent is a claim or close request on a ticket channel.
type ActionEvent struct {
	Action    Action
	UserID    string
	ChannelID string
	Respond   Responder
}

// Reply calls r if it is set.
func (r Responder) Reply(text string) {
	if r != nil {
		r(text)
	}
}
