package graph

// NodeConfig is one node's entry in a WorkflowSchema: its key, its declared
// successors, and any override of the default node-level policy.
type NodeConfig struct {
	Key string

	// Successors lists the node's possible next steps. For a non-router
	// node this must contain at most one entry. For a router node the
	// compiler validates this list (it must be non-empty and name declared
	// nodes) and follows it for reachability, while at run time the engine
	// checks the chosen key against the Router's own Successors(). The
	// schema requires IsRouter to be set so the compiler can validate the
	// shape without invoking the node.
	Successors []string

	// ParallelChildren lists child node keys when Key names a
	// ParallelContainer. Every entry must also appear as a node in the
	// owning schema.
	ParallelChildren []string

	IsRouter   bool
	IsParallel bool

	// Reentrant allows the compiler to accept a back-edge that targets
	// this node without treating it as a cycle. Used for routers that
	// deliberately loop.
	Reentrant bool

	Timeout    *DurationOverride
	RetryPolicy *RetryPolicy

	// Breaker configures a circuit breaker guarding this node's calls. The
	// engine constructs and caches one *CircuitBreaker per node key the
	// first time it sees a non-nil Breaker, so breaker state (failure
	// counts, open/half-open timers) persists across every Run that walks
	// this node rather than resetting per call.
	Breaker *CircuitBreakerConfig
}

// DurationOverride distinguishes "unset" from "explicitly zero" for
// per-node timeout overrides.
type DurationOverride struct {
	NanosValue int64
}

// WorkflowSchema is the declarative description of a workflow graph: nodes,
// their successors, parallel sets, and the entry point.
type WorkflowSchema struct {
	WorkflowType string
	Start        string
	Nodes        []NodeConfig

	// StrictUnreachable, when true, makes unreachable nodes an
	// UnreachableNodes compile error; when false they are accepted without
	// any report.
	StrictUnreachable bool
}

// nodeByKey indexes Nodes for O(1) lookup during compilation.
func (s *WorkflowSchema) nodeByKey() map[string]*NodeConfig {
	idx := make(map[string]*NodeConfig, len(s.Nodes))
	for i := range s.Nodes {
		idx[s.Nodes[i].Key] = &s.Nodes[i]
	}
	return idx
}

// CompiledPlan is the immutable, executable form of a WorkflowSchema. It is
// produced once by Compiler.Compile and may be cached and shared by
// reference across concurrent runs — compilation is pure and the plan is
// never mutated after construction.
type CompiledPlan struct {
	schema  WorkflowSchema
	byKey   map[string]*NodeConfig
	order   []string // schema declaration order, informational only
}

// WorkflowType returns the plan's workflow type tag.
func (p *CompiledPlan) WorkflowType() string { return p.schema.WorkflowType }

// Start returns the plan's entry node key.
func (p *CompiledPlan) Start() string { return p.schema.Start }

// Config returns the node configuration for key, if present.
func (p *CompiledPlan) Config(key string) (*NodeConfig, bool) {
	c, ok := p.byKey[key]
	return c, ok
}
