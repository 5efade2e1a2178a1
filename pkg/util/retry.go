package util

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of idempotent operations. Backoff doubles per
// attempt starting from Backoff. Sleep is injectable for tests; nil means
// time.Sleep (context-aware).
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs fn up to p.Attempts times, backing off between attempts, and
// returns the first success or the last error. Only safe for operations that
// are idempotent: reads, balance lookups, nonce fetches. Never wrap a
// state-mutating submission in Retry.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	backoff := p.Backoff
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i < attempts-1 && backoff > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return zero, err
			}
			backoff *= 2
		}
	}
	return zero, lastErr
}
