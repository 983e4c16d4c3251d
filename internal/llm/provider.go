package llm

import (
	"context"
	"fmt"
)

// Provider is one model backend.
//
// Chat sends the message history and optional tool catalogue and returns the next step.
// ChatStream does the same over a streamed response, calling onDelta for each text
// fragment as it arrives, and returns the aggregated response once the stream ends.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req *Request) (*Response, error)
	ChatStream(ctx context.Context, req *Request, onDelta func(string)) (*Response, error)
}

// NewProvider creates the adapter matching config.Provider.
func NewProvider(config *Config) (Provider, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGemini(config), nil
	default:
		return NewOpenAICompat(config), nil
	}
}

// withDefaults returns a copy of req with model, temperature and token ceiling filled from config.
func withDefaults(req *Request, config *Config) Request {
	out := *req
	if out.Model == "" {
		out.Model = config.Model
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = config.EffectiveMaxTokens()
	}
	if out.Temperature < 0 || out.Temperature > 2 {
		out.Temperature = config.Temperature
	}
	return out
}
