package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/fieldhand/internal/llm"
	"github.com/kalambet/fieldhand/internal/schema"
)

// ErrNoSQL is returned when the model reply contains no statement.
var ErrNoSQL = errors.New("no SQL statement in model output")

const defaultGenerateTimeout = 20 * time.Second

const sqlPrompt = `You translate questions from banana and plantain farmers into one read-only SQL query.

Rules:
- Output a single SELECT statement (WITH ... SELECT is fine) and nothing else.
- Use only the tables and columns listed under [Database].
- Never modify data and never read tables that are not listed.
- When the user's farms are listed, restrict results to those farm ids.
- Prefer explicit column lists over SELECT *.
- Use standard SQL that runs on both SQLite and PostgreSQL.`

// ContextBuilder supplies the per-user schema context.
type ContextBuilder interface {
	Build(ctx context.Context, userID int64) (schema.Context, error)
}

// Generator asks the model for a SQL statement answering a question.
type Generator struct {
	chat    llm.Chatter
	model   string
	schema  ContextBuilder
	timeout time.Duration
}

func NewGenerator(chat llm.Chatter, model string, schema ContextBuilder, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &Generator{chat: chat, model: model, schema: schema, timeout: timeout}
}

// Generate returns the statement extracted from the model reply. It is not
// checked; callers pass it through a Guard.
func (g *Generator) Generate(ctx context.Context, question string, userID int64) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question")
	}

	sc, err := g.schema.Build(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("building schema context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.chat.Chat(ctx, g.model, []llm.Message{
		{Role: llm.RoleSystem, Content: sqlPrompt + "\n\n[Database]\n" + sc.Render()},
		{Role: llm.RoleUser, Content: question},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("sql model call: %w", err)
	}
	return ExtractSQL(reply)
}

var (
	sqlFenceRe = regexp.MustCompile("(?is)```(?:sql|sqlite|postgresql|postgres)?\\s*(.*?)```")
	sqlStartRe = regexp.MustCompile(`(?i)\b(select|with)\b`)
)

// ExtractSQL pulls the statement out of a reply that may wrap it in a code
// fence or surround it with prose.
func ExtractSQL(reply string) (string, error) {
	text := reply
	if m := sqlFenceRe.FindStringSubmatch(reply); m != nil {
		text = m[1]
	} else if loc := sqlStartRe.FindStringIndex(reply); loc != nil {
		text = reply[loc[0]:]
		// Prose after the statement usually starts on a blank line.
		if end := strings.Index(text, "\n\n"); end >= 0 {
			text = text[:end]
		}
	} else {
		return "", ErrNoSQL
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSQL
	}
	return text, nil
}
