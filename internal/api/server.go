package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/fieldhand/internal/assistant"
	"github.com/kalambet/fieldhand/internal/llm"
	"github.com/kalambet/fieldhand/internal/metrics"
	"github.com/kalambet/fieldhand/internal/schema"
	"github.com/kalambet/fieldhand/internal/sqlgen"
)

const maxRequestBodySize = 64 << 10 // 64KB

const maxQueryLength = 2000

// Assistant answers farm questions and lists chat history.
type Assistant interface {
	ProcessQuery(ctx context.Context, query string, userID int64) assistant.Message
	History(ctx context.Context, userID int64, limit int) ([]assistant.Message, error)
}

// SQLAnswerer runs the generated-SQL path.
type SQLAnswerer interface {
	Answer(ctx context.Context, question string, userID int64) (sqlgen.Answer, error)
}

// SchemaSource builds the per-user schema context.
type SchemaSource interface {
	Build(ctx context.Context, userID int64) (schema.Context, error)
}

type Deps struct {
	Assistant Assistant
	SQL       SQLAnswerer // optional; if nil, /v1/assistant/sql returns 404
	Schema    SchemaSource
	Metrics   *metrics.Metrics
	Token     string
	Ping      func(ctx context.Context) error // optional storage health check
}

// QueryRequest is the body of POST /v1/assistant/query and /v1/assistant/sql.
type QueryRequest struct {
	Query  string `json:"query"`
	UserID int64  `json:"user_id"`
}

type SQLResponse struct {
	Answer sqlgen.Answer `json:"answer"`
}

type SchemaResponse struct {
	UserID int64                 `json:"user_id"`
	Scoped bool                  `json:"scoped"`
	Tables []schema.Table        `json:"tables"`
	Terms  []schema.BusinessTerm `json:"business_terms"`
	Farms  []schema.FarmRef      `json:"farms"`
	Prompt string                `json:"prompt"`
}

// NewHandler returns the HTTP API. Everything under /v1 requires the bearer
// token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument(deps.Metrics))

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireToken(deps.Token))
		r.Post("/assistant/query", handleQuery(deps))
		r.Get("/assistant/history", handleHistory(deps))
		r.Post("/assistant/sql", handleSQL(deps))
		r.Get("/schema", handleSchema(deps))
	})

	return r
}

// instrument records request counts and latency by chi route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(route, status, time.Since(start))
		})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return req, false
	}
	req.Query = strings.TrimSpace(req.Query)
	switch {
	case req.Query == "":
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
		return req, false
	case len(req.Query) > maxQueryLength:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query must be at most %d characters", maxQueryLength)
		return req, false
	case req.UserID <= 0:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id must be a positive integer")
		return req, false
	}
	return req, true
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, deps.Assistant.ProcessQuery(r.Context(), req.Query, req.UserID))
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := positiveParam(r, "user_id", 0)
		if err != nil || userID == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id must be a positive integer")
			return
		}
		limit, err := positiveParam(r, "limit", 50)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
			return
		}
		if limit > 500 {
			limit = 500
		}

		msgs, err := deps.Assistant.History(r.Context(), userID, int(limit))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if msgs == nil {
			msgs = []assistant.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleSQL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.SQL == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "SQL generation is not enabled")
			return
		}
		req, ok := decodeQuery(w, r)
		if !ok {
			return
		}

		ans, err := deps.SQL.Answer(r.Context(), req.Query, req.UserID)
		var rej *sqlgen.RejectionError
		var llmErr *llm.Error
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, SQLResponse{Answer: ans})
		case errors.As(err, &rej):
			answerError(w, http.StatusUnprocessableEntity, "sql_rejected", ans, "%s", rej.Reason)
		case errors.Is(err, sqlgen.ErrNoSQL):
			httpError(w, http.StatusUnprocessableEntity, "sql_missing", "the model did not produce a SQL statement")
		case ans.Verdict == sqlgen.VerdictFailed:
			answerError(w, http.StatusUnprocessableEntity, "sql_failed", ans, "generated query failed: %v", err)
		case errors.As(err, &llmErr):
			httpError(w, http.StatusBadGateway, "api_error", "model error: %v", err)
		default:
			slog.Error("sql answer failed", "user_id", req.UserID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		}
	}
}

func handleSchema(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := positiveParam(r, "user_id", 0)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id must be a positive integer")
			return
		}
		sc, err := deps.Schema.Build(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build schema context: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, schemaResponse(sc, userID))
	}
}

func schemaResponse(sc schema.Context, userID int64) SchemaResponse {
	farms := sc.Farms
	if farms == nil {
		farms = []schema.FarmRef{}
	}
	return SchemaResponse{
		UserID: userID,
		Scoped: sc.Scoped,
		Tables: sc.Catalog.Tables,
		Terms:  sc.Catalog.BusinessTerms,
		Farms:  farms,
		Prompt: sc.Render(),
	}
}

// positiveParam parses an optional positive integer query parameter.
func positiveParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// answerError is httpError plus the audited answer, so a caller can match a
// rejected or failed statement to its audit row.
func answerError(w http.ResponseWriter, code int, errType string, ans sqlgen.Answer, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
		"answer": ans,
	})
}
