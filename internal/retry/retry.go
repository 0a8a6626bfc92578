// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Error is returned after every attempt has failed. It wraps the last error.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Policy controls backoff behavior. Retryable decides whether an error is
// worth another attempt; nil means every error is retryable.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      bool
	Retryable   func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
		Jitter:      true,
	}
}

// Delay returns the pause before the given attempt (1-indexed, so attempt 2
// is the first retry): min(base * multiplier^(attempt-1), max), scaled by a
// random factor in [0.5, 1.5) when jitter is on.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Run executes op up to MaxAttempts times. A nil error returns immediately.
// A non-retryable error propagates as-is on first occurrence. When attempts
// are exhausted, Run returns *Error wrapping the last failure. The sleep
// between attempts respects ctx cancellation.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		last = err
		if attempt == p.MaxAttempts {
			break
		}

		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return &Error{Attempts: attempt, Last: ctx.Err()}
		case <-t.C:
		}
	}
	return &Error{Attempts: p.MaxAttempts, Last: last}
}
