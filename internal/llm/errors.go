package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies backend failures for retry and reporting decisions.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimit   ErrorKind = "rate_limit"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindBadRequest  ErrorKind = "bad_request"
	KindEmpty       ErrorKind = "empty_response"
	KindUnknown     ErrorKind = "unknown"
)

// Error is a classified backend failure.
type Error struct {
	Provider   string
	Model      string
	Kind       ErrorKind
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Model != "" {
		msg += " model=" + e.Model
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func classify(provider, model string, err error) *Error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	out := &Error{Provider: provider, Model: model, Err: err}

	if errors.Is(err, context.DeadlineExceeded) {
		out.Kind, out.Retryable = KindTimeout, true
		return out
	}
	if errors.Is(err, context.Canceled) {
		out.Kind = KindUnknown
		return out
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
	default:
		out.StatusCode = statusFromMessage(err.Error())
	}

	if out.StatusCode > 0 {
		out.Kind, out.Retryable = kindForStatus(out.StatusCode)
		return out
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource exhausted") || strings.Contains(lower, "overloaded"):
		out.Kind, out.Retryable = KindRateLimit, true
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		out.Kind, out.Retryable = KindTimeout, true
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") || strings.Contains(lower, "connection reset"):
		out.Kind, out.Retryable = KindUnavailable, true
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "api key"):
		out.Kind = KindAuth
	default:
		out.Kind = KindUnknown
	}
	return out
}

func kindForStatus(code int) (ErrorKind, bool) {
	switch {
	case code == 401 || code == 403:
		return KindAuth, false
	case code == 408:
		return KindTimeout, true
	case code == 429 || code == 529:
		return KindRateLimit, true
	case code >= 500:
		return KindUnavailable, true
	case code >= 400:
		return KindBadRequest, false
	}
	return KindUnknown, false
}

// statusFromMessage recovers an HTTP status from SDKs that only surface it
// in the error text.
func statusFromMessage(msg string) int {
	for _, code := range []int{401, 403, 408, 429, 500, 502, 503, 504, 529, 400, 404} {
		c := fmt.Sprintf("%d", code)
		if strings.Contains(msg, "Error "+c) || strings.Contains(msg, "status code: "+c) ||
			strings.Contains(msg, "HTTP "+c) || strings.Contains(msg, "status "+c) {
			return code
		}
	}
	return 0
}
