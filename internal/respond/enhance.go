package respond

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/fieldhand/internal/llm"
)

// Outcome reports what happened to an enhancement attempt.
type Outcome string

const (
	OutcomeEnhanced Outcome = "enhanced"
	OutcomeDisabled Outcome = "disabled"
	OutcomeError    Outcome = "model_error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeEmpty    Outcome = "empty"
	OutcomeRejected Outcome = "rejected"
)

const enhancePrompt = `You rewrite answers from a farm-management assistant so they read naturally. Use Markdown.

Rules:
- Rephrase only. Do not add facts, advice, numbers or dates that are not in the answer.
- Keep every number, date and name from the answer exactly as written.
- Keep tables if the answer has them.
- Reply with the rewritten answer only.`

// Enhancer asks the model to rephrase a factual answer and rejects rewrites
// that lose or invent figures.
type Enhancer struct {
	chat    llm.Chatter
	model   string
	timeout time.Duration
}

func NewEnhancer(chat llm.Chatter, model string, timeout time.Duration) *Enhancer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Enhancer{chat: chat, model: model, timeout: timeout}
}

// Enhance returns the rephrased answer, or base whenever the model fails or
// its output does not pass validation.
func (e *Enhancer) Enhance(ctx context.Context, base, question string) (string, Outcome) {
	if e == nil || e.chat == nil {
		return base, OutcomeDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.chat.Chat(ctx, e.model, []llm.Message{
		{Role: llm.RoleSystem, Content: enhancePrompt},
		{Role: llm.RoleUser, Content: "Question: " + question + "\n\nAnswer:\n" + base},
	}, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("enhancement timed out, using base response", "timeout", e.timeout)
			return base, OutcomeTimeout
		}
		slog.Warn("enhancement failed, using base response", "error", err)
		return base, OutcomeError
	}

	out = strings.TrimSpace(stripFence(out))
	if out == "" {
		return base, OutcomeEmpty
	}
	if err := validateFigures(base, question, out); err != nil {
		slog.Warn("enhancement rejected, using base response", "reason", err)
		return base, OutcomeRejected
	}
	return out, OutcomeEnhanced
}

var (
	fenceRe     = regexp.MustCompile("(?s)^\\s*```(?:markdown|md)?\\s*\n(.*?)\n?```\\s*$")
	dateRe      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	numberRe    = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	listIndexRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
)

func stripFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// figures extracts ISO dates and normalized numbers. Numbers that are part
// of a date are not counted twice. Ordered-list markers are ignored.
func figures(s string) (dates, numbers map[string]bool) {
	dates, numbers = map[string]bool{}, map[string]bool{}
	for _, d := range dateRe.FindAllString(s, -1) {
		dates[d] = true
	}
	s = dateRe.ReplaceAllString(s, " ")
	s = listIndexRe.ReplaceAllString(s, " ")
	for _, n := range numberRe.FindAllString(s, -1) {
		numbers[normalizeNumber(n)] = true
	}
	return dates, numbers
}

// normalizeNumber maps "16,000", "16000" and "16000.0" to one form.
func normalizeNumber(n string) string {
	n = strings.ReplaceAll(n, ",", "")
	if strings.Contains(n, ".") {
		n = strings.TrimRight(strings.TrimRight(n, "0"), ".")
	}
	return n
}

type figureError struct {
	kind, value string
}

func (e *figureError) Error() string { return e.kind + " " + e.value }

// validateFigures requires every figure of base to survive into enhanced and
// forbids figures that appear in neither base nor question.
func validateFigures(base, question, enhanced string) error {
	baseDates, baseNums := figures(base)
	_, qNums := figures(question)
	outDates, outNums := figures(enhanced)

	for d := range baseDates {
		if !outDates[d] {
			return &figureError{"dropped date", d}
		}
	}
	for n := range baseNums {
		if !outNums[n] {
			return &figureError{"dropped number", n}
		}
	}
	for d := range outDates {
		if !baseDates[d] {
			return &figureError{"invented date", d}
		}
	}
	for n := range outNums {
		if !baseNums[n] && !qNums[n] {
			return &figureError{"invented number", n}
		}
	}
	return nil
}
