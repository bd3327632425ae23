package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiChatter calls the Gemini API through the genai SDK.
type GeminiChatter struct {
	client *genai.Client
}

// NewGeminiChatter creates a Gemini-backed chatter. The SDK client is safe
// for concurrent use and is shared across calls.
func NewGeminiChatter(ctx context.Context, apiKey string) (*GeminiChatter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiChatter{client: client}, nil
}

func (c *GeminiChatter) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	sys, rest := splitSystem(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature(jsonSchema)),
	}
	if sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if jsonSchema != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, toGeminiContents(rest), cfg)
	if err != nil {
		return "", classify("gemini", model, err)
	}
	text := resp.Text()
	if text == "" {
		return "", &Error{Provider: "gemini", Model: model, Kind: KindEmpty, Retryable: true}
	}
	return text, nil
}

func toGeminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}
