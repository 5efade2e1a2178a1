package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	p := RetryPolicy{
		Attempts: 4,
		Backoff:  100 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	v, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || calls != 3 {
		t.Fatalf("v=%d calls=%d", v, calls)
	}

	// Backoff doubles between attempts.
	if len(slept) != 2 || slept[0] != 100*time.Millisecond || slept[1] != 200*time.Millisecond {
		t.Fatalf("backoff sequence: %v", slept)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}

	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Fatalf("want last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, RetryPolicy{Attempts: 5}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("x")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("fn should not run after cancellation, ran %d times", calls)
	}
}
