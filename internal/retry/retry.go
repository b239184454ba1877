// Package retry wraps transport calls in a bounded exponential-backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrExhausted is matched (errors.Is) by every error returned after the
// attempt cap is reached.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes how often and how patiently a call is retried.
// The delay before attempt k (k >= 1) is BaseDelay * Multiplier^(k-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration // 0 = uncapped

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default mirrors the exchange client settings: 3 attempts, 2s, doubling.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}
}

// ExhaustedError carries the last failure once the policy gives up.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts failed: %v", e.Op, e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// Do calls fn until it succeeds, the attempt cap is reached, or ctx ends.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		delay := p.Delay(i + 1)
		log.Printf("[retry] %s attempt %d/%d failed: %v (retrying in %s)", op, i+1, attempts, last, delay)
		if err := p.wait(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Op: op, Attempts: attempts, Last: last}
}

// Delay returns the backoff before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	d := float64(p.BaseDelay)
	m := p.Multiplier
	if m <= 0 {
		m = 1
	}
	for i := 1; i < retry; i++ {
		d *= m
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
