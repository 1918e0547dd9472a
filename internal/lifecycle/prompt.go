package lifecycle

import (
	"fmt"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Embed field names on the ticket prompt.
const (
	FieldAutoClose = "Auto-Close Timer"
	FieldClaimedBy = "Claimed By"
)

// Countdown formats the time left before auto-close, e.g. "🕒 Closes in: **3d 0h 0m**".
func Countdown(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	mins := int64(remaining.Round(time.Minute) / time.Minute)
	days := mins / (24 * 60)
	hours := (mins / 60) % 24
	return fmt.Sprintf("🕒 Closes in: **%dd %dh %dm**", days, hours, mins%60)
}

// Mention renders a user reference understood by both Discord and Slack.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

func (s *Service) promptMessage(t *protocol.Ticket, remaining time.Duration) connector.OutboundMessage {
	embed := &connector.Embed{
		Title:       fmt.Sprintf("%s Ticket", t.Type),
		Description: fmt.Sprintf("Describe your issue and %s will assist you.", s.botName),
		Color:       t.Type.Color(),
		Fields: []connector.EmbedField{
			{Name: FieldAutoClose, Value: Countdown(remaining)},
		},
	}
	if t.ClaimedBy != "" {
		embed.Fields = append(embed.Fields, connector.EmbedField{Name: FieldClaimedBy, Value: Mention(t.ClaimedBy)})
	}
	return connector.OutboundMessage{
		Content: Mention(t.OwnerUserID),
		Embed:   embed,
		Buttons: []connector.Button{
			{Action: connector.ActionClaim, Label: "Claim Ticket"},
			{Action: connector.ActionClose, Label: "Close Ticket", Danger: true},
		},
	}
}
