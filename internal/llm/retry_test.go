package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedChatter struct {
	errs  []error
	calls int
}

func (s *scriptedChatter) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	return "ok", nil
}

func newTestRetry(next Chatter, retries int) *retryChatter {
	r := WithRetry(next, RetryPolicy{MaxRetries: retries, InitialDelay: time.Millisecond}).(*retryChatter)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestWithRetry_RecoversFromTransient(t *testing.T) {
	transient := &Error{Kind: KindRateLimit, Retryable: true}
	inner := &scriptedChatter{errs: []error{transient, transient}}

	out, err := newTestRetry(inner, 2).Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "ok" || inner.calls != 3 {
		t.Errorf("out=%q calls=%d, want ok after 3 calls", out, inner.calls)
	}
}

func TestWithRetry_StopsOnPermanent(t *testing.T) {
	permanent := &Error{Kind: KindAuth}
	inner := &scriptedChatter{errs: []error{permanent}}

	_, err := newTestRetry(inner, 3).Chat(context.Background(), "m", nil, nil)
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	transient := &Error{Kind: KindUnavailable, Retryable: true}
	inner := &scriptedChatter{errs: []error{transient, transient, transient}}

	_, err := newTestRetry(inner, 2).Chat(context.Background(), "m", nil, nil)
	if !IsRetryable(err) {
		t.Fatalf("err = %v, want last transient error", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetry_ZeroRetriesIsPassthrough(t *testing.T) {
	inner := &scriptedChatter{}
	if got := WithRetry(inner, RetryPolicy{}); got != Chatter(inner) {
		t.Error("WithRetry with no retries should return the inner chatter")
	}
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx err = %v, want context.Canceled", err)
	}
}
