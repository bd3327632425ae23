// Package assistant is the caller-facing entry point of the farm assistant.
// It runs a question through classification, lookup, formatting and
// enhancement, and always produces a reply.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fieldhand/internal/dispatch"
	"github.com/kalambet/fieldhand/internal/intent"
	"github.com/kalambet/fieldhand/internal/metrics"
	"github.com/kalambet/fieldhand/internal/respond"
	"github.com/kalambet/fieldhand/internal/schema"
	"github.com/kalambet/fieldhand/internal/storage"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenericApology is the reply when the question could not be processed at all.
const GenericApology = "Sorry, something went wrong while answering your question. Please try again in a moment."

const emptyQueryMessage = "Ask me about your harvests, tasks, plots or farm health."

// DefaultIntent is used when the model output cannot be classified.
const DefaultIntent = intent.TaskSummary

// Message is one chat turn.
type Message struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	Intent      intent.Intent   `json:"intent,omitempty"`
	Data        any             `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	Fallback    bool            `json:"fallback,omitempty"`
	Enhancement respond.Outcome `json:"enhancement,omitempty"`
}

type SchemaBuilder interface {
	Build(ctx context.Context, userID int64) (schema.Context, error)
}

type Analyzer interface {
	AnalyzeOrDefault(ctx context.Context, query, schemaContext string, fallback intent.Intent) (intent.Analysis, bool, error)
}

type Dispatcher interface {
	Execute(ctx context.Context, a intent.Analysis, userID int64) dispatch.Result
}

type Enhancer interface {
	Enhance(ctx context.Context, base, question string) (string, respond.Outcome)
}

// MessageStore persists chat history.
type MessageStore interface {
	SaveChatMessage(ctx context.Context, m storage.ChatMessage) error
	ListChatMessages(ctx context.Context, userID int64, limit int) ([]storage.ChatMessage, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configure a Service. Store, Enhancer and Metrics are optional.
type Options struct {
	EnhanceEnabled bool
	Enhancer       Enhancer
	Store          MessageStore
	Metrics        *metrics.Metrics
	Clock          Clock
}

type Service struct {
	schema     SchemaBuilder
	analyzer   Analyzer
	dispatcher Dispatcher
	formatter  *respond.Formatter
	opts       Options
}

func New(schema SchemaBuilder, analyzer Analyzer, dispatcher Dispatcher, formatter *respond.Formatter, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Service{
		schema:     schema,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		formatter:  formatter,
		opts:       opts,
	}
}

// ProcessQuery answers query for userID. It never fails: any error that the
// stages do not absorb themselves becomes GenericApology.
func (s *Service) ProcessQuery(ctx context.Context, query string, userID int64) (reply Message) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.message(RoleAssistant, emptyQueryMessage)
	}

	s.persist(ctx, userID, s.message(RoleUser, query))
	defer func() {
		if r := recover(); r != nil {
			slog.Error("assistant pipeline panicked", "user_id", userID, "panic", r)
			reply = s.message(RoleAssistant, GenericApology)
			s.opts.Metrics.ObserveQuery("", "error")
		}
		s.persist(ctx, userID, reply)
	}()

	reply, err := s.answer(ctx, query, userID)
	if err != nil {
		slog.Error("failed to process query", "user_id", userID, "error", err)
		s.opts.Metrics.ObserveQuery(string(reply.Intent), "error")
		return s.message(RoleAssistant, GenericApology)
	}
	return reply
}

func (s *Service) answer(ctx context.Context, query string, userID int64) (Message, error) {
	m := s.opts.Metrics

	done := m.Time(metrics.StageSchema)
	sc, err := s.schema.Build(ctx, userID)
	done()
	if err != nil {
		return Message{}, err
	}

	done = m.Time(metrics.StageAnalyze)
	analysis, fellBack, err := s.analyzer.AnalyzeOrDefault(ctx, query, sc.Render(), DefaultIntent)
	done()
	if err != nil {
		return Message{}, err
	}
	if fellBack {
		m.ObserveFallback(string(DefaultIntent))
	}

	done = m.Time(metrics.StageDispatch)
	res := s.dispatcher.Execute(ctx, analysis, userID)
	done()

	done = m.Time(metrics.StageFormat)
	content := s.formatter.Format(analysis.Intent, res, query)
	done()

	reply := s.message(RoleAssistant, content)
	reply.Intent = analysis.Intent
	reply.Data = res.Data
	reply.Error = res.Error
	reply.Fallback = fellBack

	if s.opts.EnhanceEnabled && s.opts.Enhancer != nil && res.Error == "" {
		done = m.Time(metrics.StageEnhance)
		reply.Content, reply.Enhancement = s.opts.Enhancer.Enhance(ctx, content, query)
		done()
		m.ObserveEnhancement(string(reply.Enhancement))
	}

	outcome := "ok"
	if res.Error != "" {
		outcome = "lookup_error"
	}
	m.ObserveQuery(string(analysis.Intent), outcome)
	return reply, nil
}

// History returns the user's persisted messages, oldest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if s.opts.Store == nil {
		return nil, errors.New("chat history is not configured")
	}
	stored, err := s.opts.Store.ListChatMessages(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(stored))
	for i, cm := range stored {
		out[i] = Message{
			ID:        cm.ID,
			Role:      cm.Role,
			Content:   cm.Content,
			Timestamp: cm.CreatedAt,
			Intent:    intent.Intent(cm.Intent),
		}
	}
	return out, nil
}

func (s *Service) message(role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: s.opts.Clock.Now()}
}

// persist is best effort; history is not worth failing an answer over.
func (s *Service) persist(ctx context.Context, userID int64, m Message) {
	if s.opts.Store == nil {
		return
	}
	err := s.opts.Store.SaveChatMessage(ctx, storage.ChatMessage{
		ID:        m.ID,
		UserID:    userID,
		Role:      m.Role,
		Content:   m.Content,
		Intent:    string(m.Intent),
		CreatedAt: m.Timestamp,
	})
	if err != nil {
		slog.Warn("failed to save chat message", "user_id", userID, "role", m.Role, "error", err)
	}
}
