package graph

import (
	"context"
	"time"
)

// Resilience composes the three cross-cutting primitives around a
// protected call in the fixed order this package's specification
// mandates: circuit breaker outermost, then retry, then timeout innermost.
// Cache fallback is orthogonal and, when configured, wraps the entire
// stack rather than nesting inside it.
type Resilience struct {
	Breaker *CircuitBreaker
	Retry   *RetryPolicy
	Timeout time.Duration
	Cache   *CacheFallback

	metrics *Metrics
	service string
}

// ResilienceOption configures a Resilience wrapper.
type ResilienceOption func(*Resilience)

// WithBreaker attaches a circuit breaker as the outermost layer.
func WithBreaker(cb *CircuitBreaker) ResilienceOption {
	return func(r *Resilience) { r.Breaker = cb }
}

// WithRetryPolicy attaches a retry policy.
func WithRetryPolicy(rp RetryPolicy) ResilienceOption {
	return func(r *Resilience) { r.Retry = &rp }
}

// WithCallTimeout bounds each individual invocation.
func WithCallTimeout(d time.Duration) ResilienceOption {
	return func(r *Resilience) { r.Timeout = d }
}

// WithCacheFallback attaches a fallback cache wrapping the whole stack.
func WithCacheFallback(cf *CacheFallback) ResilienceOption {
	return func(r *Resilience) { r.Cache = cf }
}

// WithResilienceMetrics records attempt/outcome counters against m under
// service's label.
func WithResilienceMetrics(m *Metrics, service string) ResilienceOption {
	return func(r *Resilience) { r.metrics = m; r.service = service }
}

// NewResilience builds a Resilience wrapper from opts. A zero-value
// Resilience (no options) is a pass-through: Call just invokes fn.
func NewResilience(opts ...ResilienceOption) *Resilience {
	r := &Resilience{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// innerCall wraps fn with the timeout layer, the innermost wrapper.
func (r *Resilience) innerCall(fn func(ctx context.Context) error) func(ctx context.Context) error {
	if r.Timeout <= 0 {
		return fn
	}
	return func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && callCtx.Err() == context.DeadlineExceeded {
			we := NewWorkflowError(KindTransient, SeverityError, CodeTransportTimeout, "call exceeded timeout")
			return we.WithCause(err)
		}
		return err
	}
}

// Call executes fn through the composed stack: breaker(retry(timeout(fn))).
func (r *Resilience) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	wrapped := r.innerCall(fn)

	if r.Retry != nil {
		retryPolicy := *r.Retry
		innerWrapped := wrapped
		wrapped = func(ctx context.Context) error {
			outcome, err := retryPolicy.Execute(ctx, innerWrapped)
			recovered := outcome.attempts > 1
			if r.metrics != nil {
				r.metrics.RecordRetry(r.service, outcome.attempts-1, outcome.succeeded)
				if recovered {
					r.metrics.RecordRecoveryAttempt(RecoveryRetry, outcome.succeeded)
				}
			}
			if err != nil && recovered {
				if we, ok := err.(*WorkflowError); ok {
					we.WithRecovery(RecoveryRetry)
				}
			}
			return err
		}
	}

	if r.Breaker != nil {
		innerWrapped := wrapped
		wrapped = func(ctx context.Context) error {
			err := r.Breaker.Execute(ctx, innerWrapped)
			if we, ok := err.(*WorkflowError); ok && we.Code == CodeCircuitOpen {
				we.WithRecovery(RecoveryCircuitBreaker)
			}
			return err
		}
	}

	return wrapped(ctx)
}

// CallWithFallback executes fn (producing a value) through the composed
// stack, and through the cache fallback if one is configured, reporting
// whether the returned value was served from cache.
func (r *Resilience) CallWithFallback(ctx context.Context, cacheKey string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	if r.Cache == nil {
		var result any
		err := r.Call(ctx, func(ctx context.Context) error {
			v, callErr := fn(ctx)
			result = v
			return callErr
		})
		return result, false, err
	}

	value, servedFromCache, err := r.Cache.Call(ctx, cacheKey, func(ctx context.Context) (any, error) {
		var result any
		callErr := r.Call(ctx, func(ctx context.Context) error {
			v, innerErr := fn(ctx)
			result = v
			return innerErr
		})
		return result, callErr
	})

	if servedFromCache && r.metrics != nil {
		r.metrics.RecordRecoveryAttempt(RecoveryFallback, true)
	}

	return value, servedFromCache, err
}
