package graph

import (
	"context"
	"math/rand"
	"time"

	"github.com/taskflow/workflowcore/internal/backoff"
)

// RetryPolicy configures automatic retry of a protected call.
//
// Delay for attempt n >= 1 is clamp(initial * multiplier^(n-1), 0, max) *
// (1 + uniform(-jitter, +jitter)); attempt 0 (the first try) has zero
// delay. Permanent, User and Business errors are never retried regardless
// of attempts remaining.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// RetryOn optionally restricts retry to these error codes; if empty,
	// any error classified Transient is retried.
	RetryOn []string

	rng *rand.Rand
}

// DefaultRetryPolicy returns the configuration defaults named in this
// package's specification (§6), matching the Rust source's
// RetryPolicy::default() field for field.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Validate checks the policy's configuration for internal consistency.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrValidationFailed("retry policy: max_attempts must be >= 1")
	}
	if rp.Multiplier < 1.0 {
		return ErrValidationFailed("retry policy: multiplier must be >= 1.0")
	}
	if rp.JitterFactor < 0 || rp.JitterFactor > 1 {
		return ErrValidationFailed("retry policy: jitter_factor must be in [0, 1]")
	}
	if rp.MaxDelay > 0 && rp.InitialDelay > 0 && rp.MaxDelay < rp.InitialDelay {
		return ErrValidationFailed("retry policy: max_delay must be >= initial_delay")
	}
	return nil
}

// shouldRetry reports whether err is eligible for another attempt under rp.
func (rp RetryPolicy) shouldRetry(err error) bool {
	we, ok := err.(*WorkflowError)
	if !ok {
		return false
	}
	if len(rp.RetryOn) > 0 {
		for _, code := range rp.RetryOn {
			if we.Code == code {
				return true
			}
		}
		return false
	}
	return we.IsRetryable()
}

// delayForAttempt computes the backoff delay before attempt n (1-indexed;
// attempt 1 is the first retry after the initial try, which itself has no
// delay).
func (rp RetryPolicy) delayForAttempt(n int, rng *rand.Rand) time.Duration {
	return backoff.Delay(backoff.Config{
		Initial:      rp.InitialDelay,
		Max:          rp.MaxDelay,
		Multiplier:   rp.Multiplier,
		JitterFactor: rp.JitterFactor,
	}, n, rng)
}

// retryOutcome records whether a call ultimately succeeded after retrying,
// for the retry_attempts/retry_successes metrics.
type retryOutcome struct {
	attempts     int
	succeeded    bool
	succeededOn  int
}

// Execute runs fn under rp, sleeping between attempts per delayForAttempt
// and honoring ctx cancellation. attempt 0 has zero retries performed: it
// is equivalent to calling fn directly once.
func (rp RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) (retryOutcome, error) {
	if rp.MaxAttempts < 1 {
		rp = DefaultRetryPolicy()
	}
	var lastErr error
	outcome := retryOutcome{}
	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := rp.delayForAttempt(attempt, rp.rng)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return outcome, ctx.Err()
			case <-timer.C:
			}
		}
		outcome.attempts++
		err := fn(ctx)
		if err == nil {
			outcome.succeeded = attempt > 0
			outcome.succeededOn = attempt
			return outcome, nil
		}
		lastErr = err
		if !rp.shouldRetry(err) {
			return outcome, err
		}
	}
	return outcome, lastErr
}
