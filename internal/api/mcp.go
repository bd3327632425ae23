package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fieldhand/internal/sqlgen"
)

// MCPDeps holds dependencies for the MCP server. UserID is the farm owner
// the stdio session acts for unless a tool call names another.
type MCPDeps struct {
	Assistant Assistant
	SQL       SQLAnswerer // optional; if nil, generate_sql returns an error
	Schema    SchemaSource
	UserID    int64
}

// NewMCPServer creates an MCP server with the farm assistant tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"fieldhand",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fieldhand answers questions about banana and plantain farms: harvests, tasks, plot status, forecasts and farm health."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_farm_assistant",
			mcp.WithDescription("Ask a natural-language question about the user's farms and get a Markdown answer."),
			mcp.WithString("question", mcp.Description("The question, e.g. 'When is the next harvest on farm 2?'"), mcp.Required()),
			mcp.WithNumber("user_id", mcp.Description("Farm owner id (defaults to the configured user)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_sql",
			mcp.WithDescription("Translate a question into a read-only SQL query over the farm schema. The query is checked before it is returned or run."),
			mcp.WithString("question", mcp.Description("The question to translate"), mcp.Required()),
			mcp.WithNumber("user_id", mcp.Description("Farm owner id (defaults to the configured user)")),
		),
		mcpGenerateSQL(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"farm://schema",
			"Farm Schema",
			mcp.WithResourceDescription("Tables, business terms and the user's farms as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSchema(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"farm://history",
			"Recent Conversation",
			mcp.WithResourceDescription("Last 10 chat messages with the assistant"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpUserID(deps MCPDeps, req mcp.CallToolRequest) (int64, error) {
	id := int64(req.GetInt("user_id", int(deps.UserID)))
	if id <= 0 {
		return 0, errors.New("user_id must be a positive integer")
	}
	return id, nil
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}
		userID, err := mcpUserID(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		msg := deps.Assistant.ProcessQuery(ctx, question, userID)
		return mcpText(msg.Content), nil
	}
}

func mcpGenerateSQL(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.SQL == nil {
			return mcpError("SQL generation is not enabled"), nil
		}
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}
		userID, err := mcpUserID(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		ans, err := deps.SQL.Answer(ctx, question, userID)
		if err != nil {
			var rej *sqlgen.RejectionError
			if errors.As(err, &rej) {
				return mcpError(fmt.Sprintf("query rejected: %s\n\n%s", rej.Reason, rej.SQL)), nil
			}
			return mcpError(fmt.Sprintf("sql generation failed: %v", err)), nil
		}

		b, err := json.Marshal(ans)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sc, err := deps.Schema.Build(ctx, deps.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to build schema context: %w", err)
		}

		b, err := json.Marshal(schemaResponse(sc, deps.UserID))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs, err := deps.Assistant.History(ctx, deps.UserID, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get history: %w", err)
		}

		type messageSummary struct {
			ID        string `json:"id"`
			Role      string `json:"role"`
			CreatedAt string `json:"created_at"`
			Content   string `json:"content"`
		}

		summaries := make([]messageSummary, len(msgs))
		for i, m := range msgs {
			content := m.Content
			if utf8.RuneCountInString(content) > 200 {
				runes := []rune(content)
				content = string(runes[:200]) + "..."
			}
			summaries[i] = messageSummary{
				ID:        m.ID,
				Role:      m.Role,
				CreatedAt: m.Timestamp.Format(time.RFC3339),
				Content:   content,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
