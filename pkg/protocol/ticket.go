package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TicketType is the kind of request a user opened. It never changes after creation.
type TicketType string

const (
	TicketGeneral  TicketType = "General"
	TicketIncident TicketType = "Incident"
	TicketReport   TicketType = "Report"
	TicketFeedback TicketType = "Feedback"
)

// TicketTypes lists every ticket type in panel order.
var TicketTypes = []TicketType{TicketGeneral, TicketIncident, TicketReport, TicketFeedback}

// ParseTicketType matches s case-insensitively against the known ticket types.
func ParseTicketType(s string) (TicketType, error) {
	for _, t := range TicketTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown ticket type %q", s)
}

// Color returns the embed color used for the ticket type.
func (t TicketType) Color() int {
	switch t {
	case TicketIncident:
		return 0xED4245
	case TicketReport:
		return 0xF1C40F
	case TicketFeedback:
		return 0x2ECC71
	default:
		return 0x5865F2
	}
}

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen    TicketStatus = "open"
	TicketClaimed TicketStatus = "claimed"
	TicketClosed  TicketStatus = "closed"
)

// CloseReason records what closed a ticket.
type CloseReason string

const (
	CloseManual  CloseReason = "manual"
	CloseTimeout CloseReason = "timeout"
)

// Ticket is the live state of one support ticket. ID is the ticket's channel.
type Ticket struct {
	ID                string       `json:"id"`
	Type              TicketType   `json:"type"`
	Status            TicketStatus `json:"status"`
	MutedForAssistant bool         `json:"muted_for_assistant"`
	ClaimedBy         string       `json:"claimed_by,omitempty"`
	OwnerUserID       string       `json:"owner_user_id"`
	OwnerName         string       `json:"owner_name,omitempty"`
	ChannelName       string       `json:"channel_name"`
	PromptMessageID   string       `json:"prompt_message_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Clone returns a copy safe to hand out of the registry.
func (t *Ticket) Clone() *Ticket {
	c := *t
	return &c
}

// ChannelName builds the ticket channel name: "<type>-<display name>", lowercased, no spaces.
func ChannelName(t TicketType, displayName string) string {
	name := strings.ToLower(string(t)) + "-" + displayName
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

var (
	ErrDuplicateTicket = errors.New("duplicate ticket")
	ErrNotFound        = errors.New("ticket not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrAlreadyClaimed  = errors.New("ticket already claimed")
)

// CollaboratorError wraps a failure of the chat platform or the AI service.
type CollaboratorError struct {
	Collaborator string // "chat" or "ai"
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
