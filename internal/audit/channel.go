package audit

import (
	"context"
	"fmt"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
)

// ChannelSink posts the summary card to a chat channel.
type ChannelSink struct {
	Platform  connector.Platform
	ChannelID string
}

func (s *ChannelSink) Record(ctx context.Context, rec Record) error {
	if s.ChannelID == "" {
		return nil
	}
	if _, err := s.Platform.SendMessage(ctx, s.ChannelID, connector.OutboundMessage{Embed: SummaryEmbed(rec)}); err != nil {
		return fmt.Errorf("audit: post to %s: %w", s.ChannelID, err)
	}
	return nil
}
