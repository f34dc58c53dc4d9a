package retry

import (
	"math"
	"time"
)

// ComputeDelay calculates the jittered exponential backoff delay for a
// 0-based attempt index.
//
// base = InitialDelay * Multiplier^attempt, jitter is uniform in
// [0, base/2), and the result is capped at MaxDelay. The jitter spreads
// retries from concurrent workers so a shared endpoint is not hit by a
// synchronized retry storm; the cap bounds total wait on sustained outages.
//
// randFloat must return a uniform value in [0,1). Given a fixed source the
// function is pure.
func ComputeDelay(attempt int, p Policy, randFloat func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	jitter := randFloat() * base / 2
	delay := base + jitter

	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}
