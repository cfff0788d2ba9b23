// Package retry centralizes the re-attempt policy for AI invocations.
//
// Providers perform single-shot calls and classify their failures; this
// package decides whether a failure is worth another attempt, how long to
// wait, and when to give up. Keeping the policy in one place means the
// enrichment engine and the preflight checks share identical semantics.
package retry

import (
	"context"
	"fmt"
	"time"

	"tsumugi/internal/services"
)

const (
	// DefaultMaxAttempts bounds how many times a transient failure is retried.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the doubling backoff between attempts.
	DefaultBaseDelay = 2 * time.Second
	// DefaultMaxDelay caps the backoff regardless of attempt count or hints.
	DefaultMaxDelay = 30 * time.Second
)

// Policy governs how a failing operation is re-attempted.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry is invoked before each backoff sleep with the attempt that
	// failed, the chosen delay, and the error. Nil disables the callback.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleeper overrides how backoff sleeps are performed (useful for tests).
	Sleeper func(time.Duration)
}

// Default returns the policy used when the configuration supplies nothing.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. fn receives the 1-based attempt number.
// Retryable errors that survive the final attempt are wrapped with the
// attempt count; the underlying classification stays reachable via errors.Is.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !services.IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt >= attempts {
			break
		}
		if ctx != nil && ctx.Err() != nil {
			return err
		}

		delay := p.backoffDelay(attempt)
		if hint, ok := services.RetryAfterHint(err); ok && hint > 0 {
			delay = p.capDelay(hint)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

// Attempts reports the effective attempt budget.
func (p Policy) Attempts() int {
	return p.attempts()
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backoffDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base < 0 {
		base = 0
	}
	if base == 0 {
		return 0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	if ctx == nil {
		time.Sleep(delay)
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
