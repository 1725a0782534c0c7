package graph

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicy_Validate(t *testing.T) {
	t.Run("accepts the package default", func(t *testing.T) {
		if err := DefaultRetryPolicy().Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("rejects max_attempts below 1", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		rp.MaxAttempts = 0
		if err := rp.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("rejects a multiplier below 1.0", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		rp.Multiplier = 0.5
		if err := rp.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("rejects max_delay below initial_delay", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		rp.InitialDelay = 10 * time.Second
		rp.MaxDelay = time.Second
		if err := rp.Validate(); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Run("retries transient errors by default", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		if !rp.shouldRetry(ErrCircuitOpen("svc")) {
			t.Error("expected a transient error to be retryable")
		}
	})

	t.Run("never retries permanent errors", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		if rp.shouldRetry(ErrNodeNotFound("n")) {
			t.Error("expected a permanent error not to be retried")
		}
	})

	t.Run("never retries a non-WorkflowError", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		if rp.shouldRetry(errors.New("boom")) {
			t.Error("expected a plain error not to be retried")
		}
	})

	t.Run("RetryOn restricts retry to the listed codes", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		rp.RetryOn = []string{CodeCircuitOpen}
		if !rp.shouldRetry(ErrCircuitOpen("svc")) {
			t.Error("expected the listed code to be retried")
		}
		if rp.shouldRetry(ErrBufferOverflow()) {
			t.Error("expected a code not in RetryOn to be rejected")
		}
	})
}

func TestRetryPolicy_DelayForAttempt(t *testing.T) {
	t.Run("attempt 0 has no delay", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		if d := rp.delayForAttempt(0, rand.New(rand.NewSource(1))); d != 0 {
			t.Errorf("delayForAttempt(0) = %v, want 0", d)
		}
	})

	t.Run("delay never exceeds MaxDelay even with jitter", func(t *testing.T) {
		rp := RetryPolicy{InitialDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10, JitterFactor: 0.5}
		rng := rand.New(rand.NewSource(42))
		for n := 1; n <= 5; n++ {
			d := rp.delayForAttempt(n, rng)
			if d > rp.MaxDelay+time.Duration(float64(rp.MaxDelay)*rp.JitterFactor)+1 {
				t.Errorf("delayForAttempt(%d) = %v exceeds bound", n, d)
			}
		}
	})
}

func TestRetryPolicy_Execute(t *testing.T) {
	t.Run("succeeds on the first attempt without sleeping", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		rp.InitialDelay = 0
		calls := 0
		outcome, err := rp.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 || outcome.attempts != 1 || outcome.succeeded {
			t.Fatalf("unexpected outcome: %+v, calls=%d, err=%v", outcome, calls, err)
		}
	})

	t.Run("retries a transient error until it succeeds", func(t *testing.T) {
		rp := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
		calls := 0
		outcome, err := rp.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return ErrCircuitOpen("svc")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if calls != 2 || !outcome.succeeded || outcome.succeededOn != 1 {
			t.Errorf("unexpected outcome: %+v, calls=%d", outcome, calls)
		}
	})

	t.Run("stops retrying a permanent error immediately", func(t *testing.T) {
		rp := DefaultRetryPolicy()
		rp.InitialDelay = 0
		calls := 0
		_, err := rp.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return ErrNodeNotFound("n")
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		we, ok := err.(*WorkflowError)
		if !ok || we.Code != CodeNodeNotFound {
			t.Errorf("expected %s, got %v", CodeNodeNotFound, err)
		}
	})

	t.Run("exhausts attempts and returns the last error", func(t *testing.T) {
		rp := RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
		calls := 0
		_, err := rp.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return ErrCircuitOpen("svc")
		})
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
		if we, ok := err.(*WorkflowError); !ok || we.Code != CodeCircuitOpen {
			t.Errorf("expected %s, got %v", CodeCircuitOpen, err)
		}
	})

	t.Run("honors context cancellation while waiting between attempts", func(t *testing.T) {
		rp := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
		_, err := rp.Execute(ctx, func(ctx context.Context) error {
			calls++
			return ErrCircuitOpen("svc")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1 (no second attempt should have run)", calls)
		}
	})
}
