// Package archive persists closed tickets with their summaries and transcripts.
package archive

import (
	"context"
	"time"

	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Entry is the archived record of one closed ticket.
type Entry struct {
	ID              string               `json:"id"`
	TicketID        string               `json:"ticket_id"`
	Type            protocol.TicketType  `json:"type"`
	ChannelName     string               `json:"channel_name"`
	OwnerUserID     string               `json:"owner_user_id"`
	OwnerName       string               `json:"owner_name,omitempty"`
	ClaimedBy       string               `json:"claimed_by,omitempty"`
	Reason          protocol.CloseReason `json:"reason"`
	ClosedBy        string               `json:"closed_by,omitempty"`
	Summary         string               `json:"summary"`
	SummaryFallback bool                 `json:"summary_fallback"`
	CreatedAt       time.Time            `json:"created_at"`
	ClosedAt        time.Time            `json:"closed_at"`
	Messages        []protocol.Message   `json:"messages,omitempty"`
}

// Store is the persistence interface for archived tickets.
type Store interface {
	// Save inserts an entry, assigning an ID if empty.
	Save(ctx context.Context, e *Entry) error
	// Get retrieves an entry by archive ID or ticket ID, including its transcript.
	Get(ctx context.Context, id string) (*Entry, error)
	// List returns entries matching the filter, newest first, without transcripts.
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
	// Close releases the underlying database.
	Close() error
}

// Filter constrains archive queries.
type Filter struct {
	Type    protocol.TicketType
	Reason  protocol.CloseReason
	OwnerID string
	Query   string // text search on summary and channel name
	Limit   int    // 0 = no limit
}
