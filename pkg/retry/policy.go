// Package retry provides retry policies and the retry executor shared by
// the download and push paths.
package retry

import (
	"fmt"
	"math/rand"
	"time"
)

// Policy is a caller-owned retry policy value. MaxAttempts counts retries
// after the first attempt, so an operation runs at most MaxAttempts+1 times.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy returns the policy used when a caller supplies none.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be non-negative, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must be non-negative, got %v", p.InitialDelay)
	}
	return nil
}

// Backoff computes the delay before the next attempt. attempt is 0-based:
// the delay returned for attempt N is slept after the Nth failure.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff reuses the policy's initial delay unchanged between
// attempts. This is the download-path mode: no exponential growth, no
// jitter. It is deliberately kept distinct from ExponentialBackoff rather
// than unified, since the two paths have different observed timing.
type FixedBackoff struct {
	delay time.Duration
}

// NewFixedBackoff creates the fixed-delay mode from a policy.
func NewFixedBackoff(p Policy) *FixedBackoff {
	return &FixedBackoff{delay: p.InitialDelay}
}

// Delay returns the fixed delay regardless of attempt index.
func (b *FixedBackoff) Delay(int) time.Duration {
	return b.delay
}

// ExponentialBackoff grows the delay multiplicatively with the attempt
// index, adds jitter, and caps at the policy's max delay. This is the
// push/API-path mode.
type ExponentialBackoff struct {
	policy Policy
	rand   func() float64
}

// NewExponentialBackoff creates the exponential mode from a policy.
func NewExponentialBackoff(p Policy, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		policy: p,
		rand:   rand.Float64,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Delay returns the jittered exponential delay for the attempt.
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	return ComputeDelay(attempt, b.policy, b.rand)
}

// BackoffOption configures an ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithRandSource sets the uniform [0,1) randomness source used for jitter.
// Tests inject a deterministic source here.
func WithRandSource(src func() float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		b.rand = src
	}
}
