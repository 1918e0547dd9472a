package audit

import (
	"context"

	"github.com/totalracingleague26/Dave-bot/internal/archive"
)

// ArchiveSink stores closure records in the archive.
type ArchiveSink struct {
	Store archive.Store
}

func (s *ArchiveSink) Record(ctx context.Context, rec Record) error {
	t := rec.Ticket
	return s.Store.Save(ctx, &archive.Entry{
		TicketID:        t.ID,
		Type:            t.Type,
		ChannelName:     t.ChannelName,
		OwnerUserID:     t.OwnerUserID,
		OwnerName:       t.OwnerName,
		ClaimedBy:       t.ClaimedBy,
		Reason:          rec.Reason,
		ClosedBy:        rec.ClosedBy,
		Summary:         rec.Summary,
		SummaryFallback: rec.SummaryFallback,
		CreatedAt:       t.CreatedAt,
		ClosedAt:        rec.ClosedAt,
		Messages:        rec.Transcript,
	})
}
