package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	policy := Policy{InitialMs: 1000, MaxMs: 30000, Factor: 2, Jitter: 0.1}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 1000 * time.Millisecond},
		{"second attempt no jitter", 2, 0, 2000 * time.Millisecond},
		{"third attempt no jitter", 3, 0, 4000 * time.Millisecond},
		{"first attempt full jitter", 1, 1.0, 1100 * time.Millisecond},
		{"clamped to max", 10, 0, 30000 * time.Millisecond},
		{"zero attempt treated as first", 0, 0, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWithRand(policy, tt.attempt, tt.random)
			if got != tt.want {
				t.Errorf("ComputeWithRand(attempt=%d, rand=%v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestTokenRefreshPolicyDeterministic(t *testing.T) {
	policy := TokenRefreshPolicy()
	// No jitter: the schedule must be exactly 1s, 2s, 4s.
	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
	} {
		if got := Compute(policy, attempt); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSleepWithContextZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("expected nil error for zero duration, got %v", err)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}

	calls := 0
	got, err := Retry(context.Background(), policy, 3, nil, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want %q after 3", got, calls, "ok")
	}
}

func TestRetryExhausted(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 1, Factor: 1, Jitter: 0}
	failure := errors.New("still broken")

	_, err := Retry(context.Background(), policy, 3, nil, func(int) (int, error) {
		return 0, failure
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("expected ErrMaxAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, failure) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestRetryPermanentStopsEarly(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 1, Factor: 1, Jitter: 0}
	fatal := errors.New("fatal")

	calls := 0
	_, err := Retry(context.Background(), policy, 5, func(err error) bool {
		return errors.Is(err, fatal)
	}, func(int) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
