package retry

import (
	"testing"
	"time"
)

func zeroRand() float64 { return 0 }

func TestComputeDelay_ZeroJitter(t *testing.T) {
	policy := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     time.Minute,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, tc := range cases {
		got := ComputeDelay(tc.attempt, policy, zeroRand)
		if got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestComputeDelay_CapAtMaxDelay(t *testing.T) {
	policy := Policy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}

	got := ComputeDelay(10, policy, zeroRand)
	if got != 5*time.Second {
		t.Errorf("expected cap at %v, got %v", 5*time.Second, got)
	}

	// Jitter must not escape the cap either.
	got = ComputeDelay(10, policy, func() float64 { return 0.999 })
	if got != 5*time.Second {
		t.Errorf("expected cap at %v with jitter, got %v", 5*time.Second, got)
	}
}

func TestComputeDelay_JitterBounds(t *testing.T) {
	policy := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
	}

	// With max jitter the delay approaches base*1.5 but never reaches it.
	base := 2 * time.Second
	got := ComputeDelay(1, policy, func() float64 { return 0.999 })
	if got < base {
		t.Errorf("jittered delay %v below base %v", got, base)
	}
	if got >= time.Duration(float64(base)*1.5) {
		t.Errorf("jittered delay %v at or above base*1.5", got)
	}
}

func TestComputeDelay_MonotonicBeforeCap(t *testing.T) {
	policy := Policy{
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     time.Hour,
	}

	prev := time.Duration(-1)
	for attempt := 0; attempt < 6; attempt++ {
		got := ComputeDelay(attempt, policy, zeroRand)
		if got <= prev {
			t.Fatalf("attempt %d: delay %v not greater than previous %v", attempt, got, prev)
		}
		prev = got
	}
}

func TestComputeDelay_NegativeAttemptClamped(t *testing.T) {
	policy := Policy{InitialDelay: time.Second, Multiplier: 2.0}

	if got := ComputeDelay(-3, policy, zeroRand); got != time.Second {
		t.Errorf("expected negative attempt to clamp to initial delay, got %v", got)
	}
}

func TestFixedBackoff_ConstantDelay(t *testing.T) {
	b := NewFixedBackoff(Policy{InitialDelay: 250 * time.Millisecond, Multiplier: 2.0})

	for attempt := 0; attempt < 5; attempt++ {
		if got := b.Delay(attempt); got != 250*time.Millisecond {
			t.Errorf("attempt %d: expected constant delay, got %v", attempt, got)
		}
	}
}

func TestExponentialBackoff_UsesInjectedRand(t *testing.T) {
	policy := Policy{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}
	b := NewExponentialBackoff(policy, WithRandSource(func() float64 { return 0.5 }))

	// base=2s, jitter=0.5*2s/2=500ms
	if got := b.Delay(1); got != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", got)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy should validate, got %v", err)
	}

	if err := (Policy{MaxAttempts: -1}).Validate(); err == nil {
		t.Error("expected error for negative max attempts")
	}

	if err := (Policy{MaxAttempts: 1, InitialDelay: -time.Second}).Validate(); err == nil {
		t.Error("expected error for negative initial delay")
	}
}
