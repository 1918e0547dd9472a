// Package summary condenses a closed ticket's transcript into an audit report.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/totalracingleague26/Dave-bot/internal/assistant"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Fallback replaces the summary when generation fails.
const Fallback = "Summary could not be generated."

// Summarizer is the AI capability the pipeline needs.
type Summarizer interface {
	GenerateSummary(ctx context.Context, prompt string) (string, error)
}

// Pipeline turns transcripts into summaries. It never fails: collaborator
// errors are logged and replaced by Fallback.
type Pipeline struct {
	AI      Summarizer
	BotName string
	Logger  *slog.Logger
}

// New creates a Pipeline.
func New(ai Summarizer, botName string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if botName == "" {
		botName = "Dave"
	}
	return &Pipeline{AI: ai, BotName: botName, Logger: logger.With("component", "summary")}
}

// Run summarises transcript in the style for t.
func (p *Pipeline) Run(ctx context.Context, t protocol.TicketType, transcript string) assistant.Result {
	if p.AI == nil {
		return assistant.Fallback(Fallback, &protocol.CollaboratorError{Collaborator: "ai", Op: "summary", Err: fmt.Errorf("no summarizer configured")})
	}
	text, err := p.AI.GenerateSummary(ctx, p.Prompt(t, transcript))
	if err == nil {
		text = strings.TrimSpace(text)
	}
	if err != nil || text == "" {
		if err == nil {
			err = &protocol.CollaboratorError{Collaborator: "ai", Op: "summary", Err: fmt.Errorf("empty response")}
		}
		p.Logger.Warn("summary failed, using fallback", "type", t, "error", err)
		return assistant.Fallback(Fallback, err)
	}
	return assistant.Result{Text: text}
}

// Prompt builds the type-specific summary instruction.
func (p *Pipeline) Prompt(t protocol.TicketType, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the ticket assistant.\n\n", p.BotName)
	b.WriteString(Style(t))
	b.WriteString("\n\nKeep it short and professional.\n\nTranscript:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}

// Style returns the instruction for a ticket type.
func Style(t protocol.TicketType) string {
	switch t {
	case protocol.TicketIncident:
		return "Write a short steward-style incident report."
	case protocol.TicketReport:
		return "Write a short moderation alert."
	case protocol.TicketFeedback:
		return "Summarise this feedback suggestion."
	default:
		return "Summarise the question and answer."
	}
}

// Transcript formats human messages as "<author>: <content>" lines in the
// order given. Bot messages are skipped.
func Transcript(msgs []protocol.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.IsBot {
			continue
		}
		lines = append(lines, m.AuthorName+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
