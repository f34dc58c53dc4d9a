package retry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/types"
)

// maxLoggedContext caps the error context written to retry log lines.
const maxLoggedContext = 100

// Classifier reports whether a failed attempt is worth retrying.
// The executor is the single point that decides retry-vs-surface; no other
// layer re-interprets retryability.
type Classifier func(error) bool

// AlwaysRetry treats every failure as retryable until the attempt budget
// is exhausted. The download path uses this mode.
func AlwaysRetry(error) bool { return true }

// Executor repeats an operation according to a Policy until success,
// exhaustion, or a non-retryable failure.
type Executor struct {
	policy   Policy
	backoff  Backoff
	classify Classifier
	clock    types.Clock
	logger   *zap.Logger
}

// NewExecutor creates a retry executor. By default it uses jittered
// exponential backoff and retries every failure.
func NewExecutor(policy Policy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		policy:   policy,
		backoff:  NewExponentialBackoff(policy),
		classify: AlwaysRetry,
		clock:    types.NewRealClock(),
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the delay mode between attempts.
func WithBackoff(b Backoff) ExecutorOption {
	return func(e *Executor) { e.backoff = b }
}

// WithClassifier sets the retryability decision for failures.
func WithClassifier(c Classifier) ExecutorOption {
	return func(e *Executor) { e.classify = c }
}

// WithClock sets the clock used for backoff sleeps.
func WithClock(clock types.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = clock }
}

// WithLogger sets the logger for retry warnings.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// ExhaustedError is returned when every attempt failed. The last failure
// is preserved verbatim in the chain.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Op is the function type to retry.
type Op[T any] func(ctx context.Context) (T, error)

// Execute runs fn with retry logic and returns its result.
func Execute[T any](e *Executor, ctx context.Context, fn Op[T]) (T, error) {
	result, _, err := ExecuteAttempts(e, ctx, fn)
	return result, err
}

// ExecuteAttempts runs fn with retry logic and additionally reports how
// many invocations were made, so callers can distinguish first-attempt
// success from success after retries.
func ExecuteAttempts[T any](e *Executor, ctx context.Context, fn Op[T]) (T, int, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= e.policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err

		if !e.classify(err) {
			e.logger.Error("non-retryable failure",
				zap.Int("attempt", attempt),
				zap.String("error", truncate(err.Error(), maxLoggedContext)))
			return zero, attempt + 1, err
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.backoff.Delay(attempt)
		e.logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("error", truncate(err.Error(), maxLoggedContext)))

		if delay > 0 {
			select {
			case <-ctx.Done():
				return zero, attempt + 1, ctx.Err()
			case <-e.clock.After(delay):
			}
		}
	}

	attempts := e.policy.MaxAttempts + 1
	e.logger.Error("retry budget exhausted",
		zap.Int("attempts", attempts),
		zap.String("error", truncate(lastErr.Error(), maxLoggedContext)))
	return zero, attempts, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// truncate caps s at n bytes to avoid flooding logs with large error
// payloads.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
