package llm

import (
	"context"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const anthropicMaxTokens = 1024

// AnthropicChatter calls the Anthropic Messages API.
type AnthropicChatter struct {
	client *anthropic.Client
}

func NewAnthropicChatter(apiKey string) *AnthropicChatter {
	return &AnthropicChatter{client: anthropic.NewClient(apiKey)}
}

// Chat has no native JSON mode; when jsonSchema is set the system prompt asks
// for bare JSON and callers extract it with ExtractJSON.
func (c *AnthropicChatter) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	sys, rest := splitSystem(messages)
	if jsonSchema != nil {
		sys = strings.TrimSpace(sys + "\n\nRespond with a single JSON object and nothing else.")
	}
	temp := temperature(jsonSchema)

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(model),
		System:      sys,
		MaxTokens:   anthropicMaxTokens,
		Temperature: &temp,
		Messages:    toAnthropicMessages(rest),
	})
	if err != nil {
		return "", classify("anthropic", model, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			sb.WriteString(*block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &Error{Provider: "anthropic", Model: model, Kind: KindEmpty, Retryable: true}
	}
	return sb.String(), nil
}

func toAnthropicMessages(messages []Message) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		text := m.Content
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		out = append(out, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{{Type: "text", Text: &text}},
		})
	}
	return out
}
