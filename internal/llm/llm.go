// Package llm hides the hosted and local chat-completion backends behind a
// single Chatter interface. Intent classification, response enhancement and
// SQL generation all talk to a Chatter and never to a vendor SDK directly.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat
// responses. Backends without native schema support only use it to switch
// into JSON mode; callers must still validate what comes back.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Chatter is the capability every backend provides.
type Chatter interface {
	// Chat sends messages to the given model and returns the assistant's text.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)
}

// splitSystem separates system messages from the conversation. Hosted APIs
// other than OpenAI take the system prompt as a dedicated field.
func splitSystem(messages []Message) (string, []Message) {
	var sys string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if sys != "" {
				sys += "\n\n"
			}
			sys += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return sys, rest
}

// temperature keeps structured calls deterministic and lets prose breathe a little.
func temperature(jsonSchema *Schema) float32 {
	if jsonSchema != nil {
		return 0
	}
	return 0.4
}
