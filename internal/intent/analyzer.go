package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/fieldhand/internal/cache"
	"github.com/kalambet/fieldhand/internal/llm"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 2
	defaultCacheTTL    = 10 * time.Minute
)

// Options tune an Analyzer. Zero values select the defaults.
type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	Cache       cache.Cache
	CacheTTL    time.Duration
}

// Analyzer classifies questions with a language model.
type Analyzer struct {
	chat        llm.Chatter
	model       string
	maxAttempts int
	timeout     time.Duration
	cache       cache.Cache
	cacheTTL    time.Duration
}

func NewAnalyzer(chat llm.Chatter, model string, opts Options) *Analyzer {
	a := &Analyzer{
		chat:        chat,
		model:       model,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = defaultMaxAttempts
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if a.cache == nil {
		a.cache = cache.Nop{}
	}
	if a.cacheTTL <= 0 {
		a.cacheTTL = defaultCacheTTL
	}
	return a
}

// Analyze classifies query against the rendered schema context. Malformed
// model output is retried; when every attempt fails the last
// *ClassificationError is returned. Transport errors are returned as-is and
// never substituted with a default.
func (a *Analyzer) Analyze(ctx context.Context, query, schemaContext string) (Analysis, error) {
	if strings.TrimSpace(query) == "" {
		return Analysis{}, &ClassificationError{Reason: "empty query"}
	}

	key := cacheKey(query, schemaContext)
	if cached, ok := a.lookup(ctx, key); ok {
		return cached, nil
	}

	messages := BuildPrompt(query, schemaContext)
	var lastErr *ClassificationError

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		raw, err := a.call(ctx, messages)
		if err != nil {
			return Analysis{}, fmt.Errorf("intent model call: %w", err)
		}

		analysis, err := Decode(raw)
		if err == nil {
			a.store(ctx, key, analysis)
			return analysis, nil
		}
		if !errors.As(err, &lastErr) {
			return Analysis{}, err
		}

		slog.Warn("intent output rejected", "attempt", attempt, "max_attempts", a.maxAttempts, "reason", lastErr.Reason)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			correction(lastErr.Reason),
		)
	}
	return Analysis{}, lastErr
}

func (a *Analyzer) call(ctx context.Context, messages []llm.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.chat.Chat(ctx, a.model, messages, responseSchema())
}

// AnalyzeOrDefault is Analyze with an explicit fallback: a
// *ClassificationError yields {fallback, {}} and fellBack=true. Transport
// errors are still returned.
func (a *Analyzer) AnalyzeOrDefault(ctx context.Context, query, schemaContext string, fallback Intent) (analysis Analysis, fellBack bool, err error) {
	analysis, err = a.Analyze(ctx, query, schemaContext)
	var ce *ClassificationError
	if errors.As(err, &ce) {
		slog.Warn("intent classification failed, using fallback intent", "fallback", fallback, "reason", ce.Reason)
		return Analysis{Intent: fallback}, true, nil
	}
	return analysis, false, err
}

func (a *Analyzer) lookup(ctx context.Context, key string) (Analysis, bool) {
	b, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("intent cache read failed", "error", err)
		}
		return Analysis{}, false
	}
	var cached Analysis
	if err := json.Unmarshal(b, &cached); err != nil || !cached.Intent.Valid() {
		slog.Warn("ignoring corrupt intent cache entry", "error", err)
		return Analysis{}, false
	}
	return cached, true
}

func (a *Analyzer) store(ctx context.Context, key string, analysis Analysis) {
	b, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, b, a.cacheTTL); err != nil {
		slog.Warn("intent cache write failed", "error", err)
	}
}

// cacheKey folds case and whitespace so trivially different phrasings share
// an entry. The schema context is part of the key because it carries the
// user's farm scope.
func cacheKey(query, schemaContext string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(norm + "\x00" + schemaContext))
	return "intent:" + hex.EncodeToString(sum[:])
}
