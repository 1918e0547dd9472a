// Package audit publishes closure records of tickets.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Record describes one ticket closure.
type Record struct {
	Ticket          protocol.Ticket
	Reason          protocol.CloseReason
	ClosedBy        string // empty for timeouts
	Summary         string
	SummaryFallback bool
	Transcript      []protocol.Message
	ClosedAt        time.Time
}

// Sink receives closure records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Multi fans a record out to every sink. All sinks are attempted; errors are joined.
type Multi struct {
	Sinks  []Sink
	Logger *slog.Logger
}

// NewMulti creates a Multi over the non-nil sinks.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{Logger: logger.With("component", "audit")}
	for _, s := range sinks {
		if s != nil {
			m.Sinks = append(m.Sinks, s)
		}
	}
	return m
}

func (m *Multi) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.Record(ctx, rec); err != nil {
			m.Logger.Error("audit sink failed", "sink", fmt.Sprintf("%T", s), "ticket", rec.Ticket.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SummaryEmbed renders the closure card posted to the log channel.
func SummaryEmbed(rec Record) *connector.Embed {
	return &connector.Embed{
		Title:       fmt.Sprintf("%s Ticket Summary", rec.Ticket.Type),
		Description: rec.Summary,
		Color:       rec.Ticket.Type.Color(),
		Fields: []connector.EmbedField{
			{Name: "Channel", Value: rec.Ticket.ChannelName},
		},
	}
}
