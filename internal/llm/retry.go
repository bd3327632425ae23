package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds retries of transient backend failures.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy returns 2 retries starting at 250ms, capped at 4s, with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		JitterFactor: 0.2,
	}
}

type retryChatter struct {
	next   Chatter
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps next so retryable errors are retried with exponential
// backoff. Non-retryable errors and context cancellation return immediately.
func WithRetry(next Chatter, policy RetryPolicy) Chatter {
	if policy.MaxRetries <= 0 {
		return next
	}
	return &retryChatter{next: next, policy: policy, sleep: sleepCtx}
}

func (r *retryChatter) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	delay := r.policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		out, err := r.next.Chat(ctx, model, messages, jsonSchema)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.policy.MaxRetries || ctx.Err() != nil {
			break
		}

		slog.Warn("llm call failed, retrying", "model", model, "attempt", attempt+1, "kind", KindOf(err), "error", err)
		if err := r.sleep(ctx, jitter(delay, r.policy.JitterFactor)); err != nil {
			return "", err
		}
		delay *= 2
		if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	return "", lastErr
}

func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + factor*(rand.Float64()*2-1)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
