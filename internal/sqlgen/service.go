package sqlgen

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fieldhand/internal/storage"
)

// Audit verdicts stored in generated_queries.
const (
	VerdictAccepted = "accepted"
	VerdictRejected = "rejected"
	VerdictExecuted = "executed"
	VerdictFailed   = "failed"
)

// Store is the persistence the SQL path needs.
type Store interface {
	SaveGeneratedQuery(ctx context.Context, q storage.GeneratedQuery) error
	RunReadOnly(ctx context.Context, query string, maxRows int) (storage.ResultSet, error)
}

// Answer is the outcome of one generated query.
type Answer struct {
	ID       string             `json:"id"`
	SQL      string             `json:"sql"`
	Verdict  string             `json:"verdict"`
	Reason   string             `json:"reason,omitempty"`
	Executed bool               `json:"executed"`
	Result   *storage.ResultSet `json:"result,omitempty"`
}

type ServiceConfig struct {
	ExecuteEnabled bool
	MaxRows        int
}

// Service runs the generate, check, audit and execute path.
type Service struct {
	gen     *Generator
	guard   *Guard
	store   Store
	cfg     ServiceConfig
	observe func(verdict string)
}

func NewService(gen *Generator, guard *Guard, store Store, cfg ServiceConfig) *Service {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 100
	}
	return &Service{gen: gen, guard: guard, store: store, cfg: cfg}
}

// OnVerdict registers a callback invoked with every audited verdict.
func (s *Service) OnVerdict(fn func(verdict string)) { s.observe = fn }

// Answer generates SQL for question and, when execution is enabled, runs it
// read-only. A statement the guard refuses yields a *RejectionError together
// with the audited Answer.
func (s *Service) Answer(ctx context.Context, question string, userID int64) (Answer, error) {
	sql, err := s.gen.Generate(ctx, question, userID)
	if err != nil {
		return Answer{}, err
	}

	ans := Answer{ID: uuid.NewString(), SQL: sql}
	if err := s.guard.Check(sql); err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			ans.Reason = rej.Reason
		}
		ans.Verdict = VerdictRejected
		s.audit(ctx, question, userID, ans, 0)
		return ans, err
	}

	if !s.cfg.ExecuteEnabled {
		ans.Verdict = VerdictAccepted
		s.audit(ctx, question, userID, ans, 0)
		return ans, nil
	}

	rs, err := s.store.RunReadOnly(ctx, sql, s.cfg.MaxRows)
	if err != nil {
		ans.Verdict = VerdictFailed
		ans.Reason = err.Error()
		s.audit(ctx, question, userID, ans, 0)
		return ans, err
	}
	ans.Verdict = VerdictExecuted
	ans.Executed = true
	ans.Result = &rs
	s.audit(ctx, question, userID, ans, len(rs.Rows))
	return ans, nil
}

// audit is best effort; a failed write is logged.
func (s *Service) audit(ctx context.Context, question string, userID int64, ans Answer, rows int) {
	if s.observe != nil {
		s.observe(ans.Verdict)
	}
	err := s.store.SaveGeneratedQuery(ctx, storage.GeneratedQuery{
		ID:        ans.ID,
		UserID:    userID,
		Question:  question,
		SQL:       ans.SQL,
		Verdict:   ans.Verdict,
		Reason:    ans.Reason,
		RowCount:  rows,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("failed to audit generated query", "id", ans.ID, "verdict", ans.Verdict, "error", err)
	}
}
