// Package assistant wraps an LLM provider with the ticket bot persona.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/totalracingleague26/Dave-bot/internal/provider"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// ReplyFallback is posted when a reply cannot be generated.
const ReplyFallback = "Sorry, I'm having trouble responding right now."

// Result is the outcome of a generation call. When Fallback is set, Text
// holds the substitute string and Err the underlying failure.
type Result struct {
	Text     string
	Fallback bool
	Err      error
}

// Fallback builds a fallback Result.
func Fallback(text string, err error) Result {
	return Result{Text: text, Fallback: true, Err: err}
}

// Rules supplies the rulebook text embedded in the system prompt.
type Rules interface {
	Text() string
}

// Persona names the bot and the community it serves.
type Persona struct {
	Name   string
	League string
}

// Assistant generates replies and summaries.
type Assistant struct {
	Provider  provider.Provider
	Rules     Rules
	Persona   Persona
	MaxTokens int
	Logger    *slog.Logger
}

// New creates an Assistant. rules may be nil.
func New(prov provider.Provider, rules Rules, persona Persona, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	if persona.Name == "" {
		persona.Name = "Dave"
	}
	if persona.League == "" {
		persona.League = "Total Racing League"
	}
	return &Assistant{
		Provider:  prov,
		Rules:     rules,
		Persona:   persona,
		MaxTokens: 1024,
		Logger:    logger.With("component", "assistant"),
	}
}

// GenerateReply answers a user message in a ticket of the given type.
// It never returns an empty Text; failures yield ReplyFallback.
func (a *Assistant) GenerateReply(ctx context.Context, t protocol.TicketType, userMessage string) Result {
	system := a.SystemPrompt(t)
	text, err := a.complete(ctx, "reply", system, userMessage)
	if err != nil {
		a.Logger.Warn("reply failed, using fallback", "type", t, "error", err)
		return Fallback(ReplyFallback, err)
	}
	return Result{Text: text}
}

// GenerateSummary runs a single-shot prompt. Callers choose the fallback text.
func (a *Assistant) GenerateSummary(ctx context.Context, prompt string) (string, error) {
	return a.complete(ctx, "summary", "", prompt)
}

func (a *Assistant) complete(ctx context.Context, op, system, user string) (string, error) {
	if a.Provider == nil {
		return "", &protocol.CollaboratorError{Collaborator: "ai", Op: op, Err: errors.New("no provider configured")}
	}
	resp, err := a.Provider.Chat(ctx, protocol.ChatRequest{
		Messages:  protocol.SystemAndUser(system, user),
		MaxTokens: a.MaxTokens,
	})
	if err != nil {
		return "", &protocol.CollaboratorError{Collaborator: "ai", Op: op, Err: err}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", &protocol.CollaboratorError{Collaborator: "ai", Op: op, Err: errors.New("empty response")}
	}
	a.Logger.Debug("generation complete", "op", op, "provider", a.Provider.Name(), "tokens", resp.Usage.TotalTokens())
	return text, nil
}
