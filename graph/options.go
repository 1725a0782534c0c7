package graph

import (
	"time"

	"github.com/taskflow/workflowcore/graph/emit"
)

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*engineConfig) error

// engineConfig collects options before they're applied to an Engine,
// allowing validation and composition ahead of construction.
type engineConfig struct {
	emitter           emit.Emitter
	metrics           *Metrics
	maxParallel       int
	defaultTimeout    time.Duration
	defaultRetry      *RetryPolicy
	defaultBreaker    *CircuitBreakerConfig
	clock             func() time.Time
	persistenceHook   PersistenceHook
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		emitter:     emit.NewNullEmitter(),
		maxParallel: 0, // 0 means "one goroutine per child", see Engine.runParallel
		clock:       time.Now,
	}
}

// WithEmitter attaches an observability sink. Default is a no-op emitter.
func WithEmitter(e emit.Emitter) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithMaxParallel bounds the number of concurrently in-flight children in a
// parallel container. Zero (the default) means "no bound beyond the
// container's own child count" (§4.3: default = N).
func WithMaxParallel(n int) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.maxParallel = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout applied to a node's Process call
// when its NodeConfig does not override it.
func WithDefaultNodeTimeout(d time.Duration) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.defaultTimeout = d
		return nil
	}
}

// WithDefaultRetryPolicy sets the retry policy applied to a node's Process
// call when its NodeConfig does not override it.
func WithDefaultRetryPolicy(rp RetryPolicy) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.defaultRetry = &rp
		return nil
	}
}

// WithDefaultBreaker sets the circuit breaker configuration applied to a
// node's Process call when its NodeConfig does not declare its own Breaker.
func WithDefaultBreaker(bcfg CircuitBreakerConfig) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.defaultBreaker = &bcfg
		return nil
	}
}

// WithClock injects the clock the engine uses to time each node's Process
// call. Circuit breakers and caches read time.Now directly and do not use it.
func WithClock(clock func() time.Time) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.clock = clock
		return nil
	}
}

// PersistenceHook is the seam through which an external collaborator may
// observe task completion or failure. No concrete implementation is
// provided by this module — persistence is explicitly out of scope (see
// DESIGN.md) — callers inject their own.
type PersistenceHook interface {
	OnTaskComplete(tc *TaskContext)
	OnTaskError(tc *TaskContext, err error)
}

// WithPersistenceHook attaches a PersistenceHook invoked when a task
// completes or fails.
func WithPersistenceHook(hook PersistenceHook) EngineOption {
	return func(cfg *engineConfig) error {
		cfg.persistenceHook = hook
		return nil
	}
}
