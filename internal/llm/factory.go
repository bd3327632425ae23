package llm

import (
	"context"
	"fmt"
)

// Config selects and authenticates a backend.
type Config struct {
	Provider   string // gemini, openai, anthropic, ollama
	APIKey     string
	BaseURL    string
	MaxRetries int
}

// New builds the configured backend wrapped with retries.
func New(ctx context.Context, cfg Config) (Chatter, error) {
	var c Chatter
	switch cfg.Provider {
	case "gemini":
		g, err := NewGeminiChatter(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		c = g
	case "openai":
		c = NewOpenAIChatter(cfg.APIKey, cfg.BaseURL)
	case "anthropic":
		c = NewAnthropicChatter(cfg.APIKey)
	case "ollama":
		c = NewOllamaChatter(cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	policy := DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	return WithRetry(c, policy), nil
}
