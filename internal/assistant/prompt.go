package assistant

import (
	"fmt"
	"strings"

	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// SystemPrompt builds the persona prompt for a ticket of type t.
func (a *Assistant) SystemPrompt(t protocol.TicketType) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, the official ticket assistant for %s.\n\n", a.Persona.Name, a.Persona.League)

	b.WriteString("# Role\n")
	b.WriteString("- Help drivers with league questions.\n")
	b.WriteString("- Acknowledge feedback and suggestions.\n")
	b.WriteString("- Assist with incident reports and general tickets.\n")
	b.WriteString("- Answer ordinary questions when asked.\n\n")

	b.WriteString("# Personality\n")
	b.WriteString("Friendly and helpful, calm and neutral. Knowledgeable about racing and the league rules. ")
	b.WriteString("Never argue with or insult users. Keep responses short and clear, with the occasional light racing joke.\n\n")

	fmt.Fprintf(&b, "# Current Ticket\nType: %s\n", t)
	b.WriteString(typeGuidance(t))
	b.WriteString("\n")

	b.WriteString("# League Rules\n")
	rules := ""
	if a.Rules != nil {
		rules = a.Rules.Text()
	}
	if rules == "" {
		rules = "No rules file found."
	}
	b.WriteString(rules)
	b.WriteString("\n")

	return b.String()
}

func typeGuidance(t protocol.TicketType) string {
	switch t {
	case protocol.TicketFeedback:
		return "Thank the user for the suggestion, confirm it will be passed to staff, and ask one or two short follow-up questions.\n"
	case protocol.TicketIncident, protocol.TicketReport:
		return "Keep it simple and racing related. If evidence such as a replay timestamp or clip is missing, ask for it.\n"
	default:
		return "Answer the question normally.\n"
	}
}
