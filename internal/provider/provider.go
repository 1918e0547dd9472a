package provider

import (
	"context"
	"fmt"

	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// Settings selects and configures a provider.
type Settings struct {
	Type    string // "openai" (default), "anthropic" or "gemini"
	APIKey  string
	BaseURL string
	Model   string
}

// New builds the provider described by s.
func New(s Settings) (Provider, error) {
	switch s.Type {
	case "anthropic":
		var opts []AnthropicOption
		if s.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(s.BaseURL))
		}
		if s.Model != "" {
			opts = append(opts, WithAnthropicModel(s.Model))
		}
		return NewAnthropic(s.APIKey, opts...), nil
	case "gemini":
		var opts []GeminiOption
		if s.BaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(s.BaseURL))
		}
		if s.Model != "" {
			opts = append(opts, WithGeminiModel(s.Model))
		}
		return NewGemini(s.APIKey, opts...), nil
	case "", "openai":
		var opts []OpenAIOption
		if s.BaseURL != "" {
			opts = append(opts, WithBaseURL(s.BaseURL))
		}
		if s.Model != "" {
			opts = append(opts, WithModel(s.Model))
		}
		return NewOpenAI(s.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("provider: unknown type %q", s.Type)
	}
}
