package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskflow/workflowcore/graph/emit"
)

// Engine advances a TaskContext from a compiled plan's start node to a
// terminal state, orchestrating parallel fan-out/in, router dispatch, and
// the resilience stack around every node invocation.
type Engine struct {
	registry *NodeRegistry
	cfg      engineConfig

	inflightMu sync.Mutex
	inflight   int

	breakersMu sync.Mutex
	breakers   map[string]*CircuitBreaker
}

// NewEngine returns an Engine backed by registry, configured by opts.
// registry should already contain every node the plans it runs will need;
// NewEngine arms the registry against further registration.
func NewEngine(registry *NodeRegistry, opts ...EngineOption) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	registry.Arm()
	return &Engine{registry: registry, cfg: cfg, breakers: make(map[string]*CircuitBreaker)}, nil
}

// Run advances tc through plan starting at plan.Start(), returning the
// final TaskContext or a *WorkflowError.
func (e *Engine) Run(ctx context.Context, plan *CompiledPlan, tc *TaskContext) (*TaskContext, error) {
	current := plan.Start()
	for current != "" {
		next, err := e.visit(ctx, plan, tc, current)
		if err != nil {
			e.emit(tc, "task_error", current, map[string]any{"error": err.Error()})
			if e.cfg.persistenceHook != nil {
				e.cfg.persistenceHook.OnTaskError(tc, err)
			}
			return tc, err
		}
		current = next
	}
	e.emit(tc, "task_complete", "", nil)
	if e.cfg.persistenceHook != nil {
		e.cfg.persistenceHook.OnTaskComplete(tc)
	}
	return tc, nil
}

// visit executes one node (resolved by key) against tc and returns the next
// node key to visit, or "" if the task terminates here.
func (e *Engine) visit(ctx context.Context, plan *CompiledPlan, tc *TaskContext, key string) (string, error) {
	node, lookupErr := e.registry.Lookup(key)
	if lookupErr != nil {
		we := lookupErr.(*WorkflowError)
		if e.cfg.metrics != nil {
			e.cfg.metrics.RecordError(we)
		}
		return "", we
	}

	cfg, _ := plan.Config(key)

	e.incInflight()
	defer e.decInflight()

	e.emit(tc, "node_start", key, nil)
	start := e.cfg.clock()

	result, err := e.invokeWithResilience(ctx, node, key, cfg, tc)

	duration := e.cfg.clock().Sub(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	if e.cfg.metrics != nil {
		e.cfg.metrics.ObserveNodeProcessDuration(key, status, duration)
	}
	e.emit(tc, "node_end", key, map[string]any{"duration_ms": duration.Milliseconds(), "status": status})

	if err != nil {
		we := asWorkflowError(err, key)
		if e.cfg.metrics != nil {
			e.cfg.metrics.RecordError(we)
		}
		tc.SetNodeOutput(key, map[string]any{"error": we.Error(), "code": we.Code})
		return "", we
	}
	tc = result

	if pc, ok := IsParallelContainer(node); ok {
		if perr := e.runParallel(ctx, plan, tc, pc); perr != nil {
			return "", perr
		}
	}

	if router, ok := IsRouter(node); ok {
		chosen, routeErr := router.Route(ctx, tc)
		if routeErr != nil {
			return "", asWorkflowError(routeErr, key)
		}
		if !contains(router.Successors(), chosen) {
			we := ErrInvalidRouter(key, chosen, router.Successors())
			if e.cfg.metrics != nil {
				e.cfg.metrics.RecordError(we)
			}
			return "", we
		}
		existing, _ := tc.NodeOutput(key)
		merged := map[string]any{"chosen": chosen}
		if m, ok := existing.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
		tc.SetNodeOutput(key, merged)
		return chosen, nil
	}

	if cfg == nil || len(cfg.Successors) == 0 {
		return "", nil
	}
	return cfg.Successors[0], nil
}

// invokeWithResilience wraps node.Process with the per-node circuit
// breaker, retry policy and timeout declared on cfg (falling back to the
// engine defaults), composed in the order §4.3 mandates: breaker
// outermost, then retry, then timeout — which is exactly the order
// Resilience.Call itself builds, so res.Breaker/Retry/Timeout map straight
// across.
func (e *Engine) invokeWithResilience(ctx context.Context, node Node, key string, cfg *NodeConfig, tc *TaskContext) (*TaskContext, error) {
	retry := e.cfg.defaultRetry
	timeout := e.cfg.defaultTimeout
	breakerCfg := e.cfg.defaultBreaker
	if cfg != nil {
		if cfg.RetryPolicy != nil {
			retry = cfg.RetryPolicy
		}
		if cfg.Timeout != nil {
			timeout = time.Duration(cfg.Timeout.NanosValue)
		}
		if cfg.Breaker != nil {
			breakerCfg = cfg.Breaker
		}
	}

	res := NewResilience()
	if retry != nil {
		res.Retry = retry
	}
	if timeout > 0 {
		res.Timeout = timeout
	}
	if breakerCfg != nil {
		res.Breaker = e.breakerFor(key, *breakerCfg)
	}
	res.metrics = e.cfg.metrics
	res.service = "node:" + key

	var result *TaskContext
	err := res.Call(ctx, func(ctx context.Context) error {
		r, callErr := node.Process(ctx, tc)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// breakerFor returns the *CircuitBreaker for key, constructing and caching
// one under cfg the first time key is seen. Subsequent calls for the same
// key reuse the cached breaker regardless of cfg, so its failure/success
// counters and open/half-open timers accumulate across every Run that
// visits the node rather than resetting per invocation.
func (e *Engine) breakerFor(key string, cfg CircuitBreakerConfig) *CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if cb, ok := e.breakers[key]; ok {
		return cb
	}
	if cfg.OnStateChange == nil && e.cfg.metrics != nil {
		m := e.cfg.metrics
		cfg.OnStateChange = func(service string, from, to BreakerState) {
			m.RecordCircuitTransition(service, from, to)
		}
	}
	cb := NewCircuitBreaker("node:"+key, cfg)
	e.breakers[key] = cb
	return cb
}

// runParallel dispatches pc's children concurrently against cloned copies
// of tc, merges their outputs back, and enforces the cancel-on-permanent-
// failure policy described in §4.3: once a sibling fails permanently, the
// errgroup context is canceled and remaining children observe it at their
// next suspension point.
func (e *Engine) runParallel(ctx context.Context, plan *CompiledPlan, tc *TaskContext, pc ParallelContainer) error {
	children := pc.Children()
	if len(children) == 0 {
		return nil
	}

	maxParallel := e.cfg.maxParallel
	if maxParallel <= 0 {
		maxParallel = len(children)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	childResults := make([]*TaskContext, len(children))
	var firstFailure error
	var failureMu sync.Mutex

	for i, childKey := range children {
		i, childKey := i, childKey
		g.Go(func() error {
			clone := tc.Clone()
			_, err := e.runSubplan(gctx, plan, clone, childKey)
			if err != nil {
				failureMu.Lock()
				if firstFailure == nil {
					firstFailure = ErrParallelBranchFailed(childKey, err)
				}
				failureMu.Unlock()
				return err
			}
			childResults[i] = clone
			return nil
		})
	}
	_ = g.Wait()

	// Merge order follows declared child list order, per the tie-break
	// rule in §4.3, regardless of completion order. Partial results from
	// children that finished before the cancel signal was observed are
	// still merged, per §7's "operators can diagnose" requirement.
	for i, childKey := range children {
		if childResults[i] == nil {
			continue
		}
		tc.MergeChild(childResults[i], []string{childKey})
	}

	if firstFailure != nil {
		if we, ok := firstFailure.(*WorkflowError); ok && e.cfg.metrics != nil {
			e.cfg.metrics.RecordError(we)
		}
		return firstFailure
	}
	return nil
}

// runSubplan walks a single branch starting at start until it terminates.
func (e *Engine) runSubplan(ctx context.Context, plan *CompiledPlan, tc *TaskContext, start string) (*TaskContext, error) {
	current := start
	for current != "" {
		next, err := e.visit(ctx, plan, tc, current)
		if err != nil {
			return tc, err
		}
		current = next
	}
	return tc, nil
}

func (e *Engine) emit(tc *TaskContext, msg, nodeID string, meta map[string]any) {
	if e.cfg.emitter == nil {
		return
	}
	e.cfg.emitter.Emit(emit.Event{
		RunID:  tc.ID(),
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (e *Engine) incInflight() {
	e.inflightMu.Lock()
	e.inflight++
	e.inflightMu.Unlock()
}

func (e *Engine) decInflight() {
	e.inflightMu.Lock()
	e.inflight--
	e.inflightMu.Unlock()
}

// Inflight returns the number of nodes currently executing.
func (e *Engine) Inflight() int {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	return e.inflight
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func asWorkflowError(err error, nodeKey string) *WorkflowError {
	if we, ok := err.(*WorkflowError); ok {
		if we.NodeKey == "" {
			we.NodeKey = nodeKey
		}
		return we
	}
	return NewWorkflowError(KindSystem, SeverityError, CodeProcessingError, err.Error()).
		WithNodeKey(nodeKey).
		WithCause(err)
}

// sortedKeys returns m's keys in sorted order, for deterministic iteration
// in tests and debugging helpers.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
