package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tsumugi/internal/services"
)

type hintedRateLimit struct {
	delay time.Duration
}

func (e *hintedRateLimit) Error() string { return "rate limited upstream" }

func (e *hintedRateLimit) Unwrap() error { return services.ErrRateLimited }

func (e *hintedRateLimit) RetryAfterHint() (time.Duration, bool) { return e.delay, true }

func quietPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Sleeper:     func(time.Duration) {},
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	policy := quietPolicy(3)

	err := policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientUpToCeiling(t *testing.T) {
	calls := 0
	policy := quietPolicy(3)

	err := policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		calls++
		return fmt.Errorf("provider down: %w", services.ErrTransientNetwork)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, services.ErrTransientNetwork) {
		t.Errorf("classification lost after wrapping: %v", err)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	policy := quietPolicy(3)

	err := policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("flaky: %w", services.ErrTransientNetwork)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cases := []struct {
		name   string
		marker error
	}{
		{"malformed response", services.ErrMalformedResponse},
		{"content policy", services.ErrContentPolicy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			policy := quietPolicy(3)
			err := policy.Do(context.Background(), "invoke", func(context.Context, int) error {
				calls++
				return fmt.Errorf("attempt: %w", tc.marker)
			})
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if !errors.Is(err, tc.marker) {
				t.Errorf("expected %v in chain, got %v", tc.marker, err)
			}
		})
	}
}

func TestDoBackoffDoublesAndCaps(t *testing.T) {
	var delays []time.Duration
	policy := Policy{
		MaxAttempts: 6,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Sleeper:     func(time.Duration) {},
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	_ = policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		return fmt.Errorf("still down: %w", services.ErrTransientNetwork)
	})

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}
	if len(delays) != len(want) {
		t.Fatalf("delay count = %d, want %d (%v)", len(delays), len(want), delays)
	}
	for i, d := range delays {
		if d != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, d, want[i])
		}
	}
}

func TestDoHonorsRetryAfterHint(t *testing.T) {
	var delays []time.Duration
	policy := Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Sleeper:     func(time.Duration) {},
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	_ = policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		return &hintedRateLimit{delay: 7 * time.Second}
	})

	if len(delays) != 1 {
		t.Fatalf("delay count = %d, want 1", len(delays))
	}
	if delays[0] != 7*time.Second {
		t.Errorf("delay = %s, want 7s", delays[0])
	}
}

func TestDoCapsRetryAfterHint(t *testing.T) {
	var delays []time.Duration
	policy := Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Sleeper:     func(time.Duration) {},
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	_ = policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		return &hintedRateLimit{delay: time.Minute}
	})

	if len(delays) != 1 {
		t.Fatalf("delay count = %d, want 1", len(delays))
	}
	if delays[0] != 5*time.Second {
		t.Errorf("delay = %s, want 5s", delays[0])
	}
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := quietPolicy(5)

	err := policy.Do(ctx, "invoke", func(context.Context, int) error {
		calls++
		cancel()
		return fmt.Errorf("flaky: %w", services.ErrTransientNetwork)
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	policy := Policy{Sleeper: func(time.Duration) {}}

	_ = policy.Do(context.Background(), "invoke", func(context.Context, int) error {
		calls++
		return fmt.Errorf("flaky: %w", services.ErrTransientNetwork)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDefaultPolicy(t *testing.T) {
	policy := Default()
	if policy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", policy.MaxAttempts)
	}
	if policy.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %s, want 2s", policy.BaseDelay)
	}
	if policy.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %s, want 30s", policy.MaxDelay)
	}
}
