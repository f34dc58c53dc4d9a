package retry

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/limsync/limsync/internal/testutils"
)

func testPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestExecutor_FirstAttemptSuccess(t *testing.T) {
	executor := NewExecutor(testPolicy(3))

	result, attempts, err := ExecuteAttempts(executor, context.Background(), func(ctx context.Context) (string, error) {
		return "done", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "done" {
		t.Errorf("expected 'done', got %v", result)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecutor_RetryThenSuccess(t *testing.T) {
	executor := NewExecutor(testPolicy(3))

	var calls int32
	result, attempts, err := ExecuteAttempts(executor, context.Background(), func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("transient failure")
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "done" {
		t.Errorf("expected 'done', got %v", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 invocations, got %d", got)
	}
}

func TestExecutor_Exhaustion(t *testing.T) {
	executor := NewExecutor(testPolicy(2))

	var calls int32
	_, err := Execute(executor, context.Background(), func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("always failing")
	})

	if err == nil {
		t.Fatal("expected error after exhaustion")
	}

	// MaxAttempts counts retries: budget 2 means 3 invocations.
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 invocations, got %d", got)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", exhausted.Attempts)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("unexpected message: %v", err)
	}
	if !strings.Contains(err.Error(), "always failing") {
		t.Errorf("expected last error in message, got: %v", err)
	}
}

func TestExecutor_ExhaustedErrorUnwrap(t *testing.T) {
	sentinel := errors.New("root cause")
	executor := NewExecutor(testPolicy(1))

	_, err := Execute(executor, context.Background(), func(ctx context.Context) (int, error) {
		return 0, sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("expected exhausted error to unwrap to the last failure")
	}
}

func TestExecutor_NonRetryableShortCircuits(t *testing.T) {
	sentinel := errors.New("permanent failure")
	executor := NewExecutor(testPolicy(5),
		WithClassifier(func(err error) bool { return false }),
	)

	var calls int32
	_, attempts, err := ExecuteAttempts(executor, context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the original error back, got %v", err)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("non-retryable failure must not be wrapped as exhaustion")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 invocation, got %d", got)
	}
	if attempts != 1 {
		t.Errorf("expected 1 reported attempt, got %d", attempts)
	}
}

func TestExecutor_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	executor := NewExecutor(testPolicy(0))

	var calls int32
	_, err := Execute(executor, context.Background(), func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("failure")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 invocation, got %d", got)
	}
}

func TestExecutor_ContextCancelledBeforeStart(t *testing.T) {
	executor := NewExecutor(testPolicy(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := Execute(executor, ctx, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no invocations, got %d", got)
	}
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	policy := Policy{
		MaxAttempts:  3,
		InitialDelay: time.Hour,
		Multiplier:   2.0,
	}
	executor := NewExecutor(policy, WithBackoff(NewFixedBackoff(policy)))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := Execute(executor, ctx, func(ctx context.Context) (int, error) {
			return 0, errors.New("transient failure")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not observe cancellation during backoff")
	}
}

func TestExecutor_UsesBackoffDelays(t *testing.T) {
	policy := testPolicy(2)

	var delays []time.Duration
	executor := NewExecutor(policy, WithBackoff(backoffFunc(func(attempt int) time.Duration {
		d := time.Duration(attempt+1) * time.Millisecond
		delays = append(delays, d)
		return d
	})))

	_, _ = Execute(executor, context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("failure")
	})

	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff consultations, got %d", len(delays))
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("unexpected delays: %v", delays)
	}
}

type backoffFunc func(attempt int) time.Duration

func (f backoffFunc) Delay(attempt int) time.Duration { return f(attempt) }

func TestExecutor_BackoffSleepsThroughClock(t *testing.T) {
	policy := Policy{
		MaxAttempts:  2,
		InitialDelay: time.Minute,
		Multiplier:   2.0,
	}

	mock := testutils.NewMockClock(t)
	trap := mock.Trap().NewTimer()
	defer trap.Close()

	executor := NewExecutor(policy,
		WithBackoff(NewFixedBackoff(policy)),
		WithClock(mock),
	)

	done := make(chan error, 1)
	go func() {
		_, err := Execute(executor, context.Background(), func(ctx context.Context) (int, error) {
			return 0, errors.New("transient failure")
		})
		done <- err
	}()

	// Two backoff sleeps before exhaustion, each a full minute on the
	// mock clock and instant in real time.
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		call := trap.MustWait(ctx)
		call.MustRelease(ctx)
		if call.Duration != time.Minute {
			t.Errorf("sleep %d: expected 1m delay, got %v", i, call.Duration)
		}
		mock.Advance(time.Minute).MustWait(ctx)
	}

	select {
	case err := <-done:
		var exhausted *ExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("expected ExhaustedError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish after clock advances")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	long := strings.Repeat("x", 150)
	got := truncate(long, 100)
	if len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected 100 bytes plus ellipsis, got %d bytes", len(got))
	}
}
