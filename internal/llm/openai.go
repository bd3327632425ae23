package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434/v1"
)

// OpenAIChatter talks to any OpenAI-compatible chat completions endpoint:
// OpenAI itself, OpenRouter, or a local Ollama server.
type OpenAIChatter struct {
	client   *openai.Client
	provider string
}

// NewOpenAIChatter creates a chatter for the given base URL. An empty baseURL
// targets api.openai.com.
func NewOpenAIChatter(apiKey, baseURL string) *OpenAIChatter {
	return newOpenAICompatible("openai", apiKey, baseURL, defaultOpenAIBaseURL)
}

// NewOllamaChatter creates a chatter for Ollama's OpenAI-compatible API.
// Ollama ignores the key but the client requires a non-empty one.
func NewOllamaChatter(baseURL string) *OpenAIChatter {
	return newOpenAICompatible("ollama", "ollama", baseURL, defaultOllamaBaseURL)
}

func newOpenAICompatible(provider, apiKey, baseURL, fallback string) *OpenAIChatter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = fallback
	}
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &OpenAIChatter{client: openai.NewClientWithConfig(cfg), provider: provider}
}

func (c *OpenAIChatter) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature(jsonSchema),
	}
	if jsonSchema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(c.provider, model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Error{Provider: c.provider, Model: model, Kind: KindEmpty, Retryable: true}
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
