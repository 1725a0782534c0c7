// Package graph provides the core workflow execution engine: a typed
// directed node graph that advances a TaskContext through user-defined
// processing stages.
package graph

import "context"

// Node is the minimal processing unit in a workflow graph: it receives a
// TaskContext, performs work, and returns an updated TaskContext or an
// error.
//
// Node kinds are distinguished by capability, not by an inheritance
// hierarchy — a node advertises what it can do by implementing the
// additional interfaces below (Router, ParallelContainer, AsyncNode), and
// the engine branches on the result of a type assertion. A single node
// value may satisfy more than one of these at once.
type Node interface {
	// Key returns the node's stable identity within its registry.
	Key() string

	// Process executes the node synchronously against ctx and returns the
	// updated context. Side effects must go through an injected
	// collaborator (an mcp.Client, a storage handle) — never through a
	// package-global singleton — and must be idempotent under retry.
	Process(ctx context.Context, tc *TaskContext) (*TaskContext, error)
}

// AsyncNode is a Node whose Process may suspend on I/O. IsAsync reports the
// capability, but neither the Compiler nor the Engine inspects it: an
// AsyncNode is compiled and run exactly like any other Node, inline on the
// goroutine executing its step, and no plan is rejected because of where an
// AsyncNode appears.
type AsyncNode interface {
	Node
	// Async is a marker method with no behavior of its own; its presence
	// is what IsAsync detects.
	Async()
}

// Router is a Node that additionally selects exactly one successor out of
// its declared set after processing.
type Router interface {
	Node
	// Successors returns the set of keys this router is permitted to
	// choose among. Declared once at registration time.
	Successors() []string
	// Route inspects tc (already updated by Process) and returns the key
	// of the chosen successor. Returning a key outside Successors() fails
	// the task with CodeInvalidRouter.
	Route(ctx context.Context, tc *TaskContext) (string, error)
}

// ParallelContainer is a Node representing concurrent execution of a fixed,
// ordered set of child node keys whose outputs are merged back into the
// parent TaskContext after all children complete (or one fails
// permanently).
type ParallelContainer interface {
	Node
	// Children returns the ordered list of child node keys to dispatch.
	// Order is significant only as the tie-break for nodes map writes.
	Children() []string
}

// NodeFunc adapts a plain function to the Node interface for simple,
// stateless processing stages.
type NodeFunc struct {
	key string
	fn  func(ctx context.Context, tc *TaskContext) (*TaskContext, error)
}

// NewNodeFunc returns a Node wrapping fn under the given key.
func NewNodeFunc(key string, fn func(ctx context.Context, tc *TaskContext) (*TaskContext, error)) *NodeFunc {
	return &NodeFunc{key: key, fn: fn}
}

// Key implements Node.
func (f *NodeFunc) Key() string { return f.key }

// Process implements Node.
func (f *NodeFunc) Process(ctx context.Context, tc *TaskContext) (*TaskContext, error) {
	return f.fn(ctx, tc)
}

// RouterFunc adapts a process function and a route function into a Router.
type RouterFunc struct {
	*NodeFunc
	successors []string
	routeFn    func(ctx context.Context, tc *TaskContext) (string, error)
}

// NewRouterFunc returns a Router over the given process and route functions.
func NewRouterFunc(
	key string,
	successors []string,
	process func(ctx context.Context, tc *TaskContext) (*TaskContext, error),
	route func(ctx context.Context, tc *TaskContext) (string, error),
) *RouterFunc {
	return &RouterFunc{
		NodeFunc:   NewNodeFunc(key, process),
		successors: successors,
		routeFn:    route,
	}
}

// Successors implements Router.
func (r *RouterFunc) Successors() []string { return r.successors }

// Route implements Router.
func (r *RouterFunc) Route(ctx context.Context, tc *TaskContext) (string, error) {
	return r.routeFn(ctx, tc)
}

// ParallelFunc adapts a process function and a fixed child list into a
// ParallelContainer.
type ParallelFunc struct {
	*NodeFunc
	children []string
}

// NewParallelFunc returns a ParallelContainer over the given children.
func NewParallelFunc(
	key string,
	children []string,
	process func(ctx context.Context, tc *TaskContext) (*TaskContext, error),
) *ParallelFunc {
	if process == nil {
		process = func(_ context.Context, tc *TaskContext) (*TaskContext, error) { return tc, nil }
	}
	return &ParallelFunc{NodeFunc: NewNodeFunc(key, process), children: children}
}

// Children implements ParallelContainer.
func (p *ParallelFunc) Children() []string { return p.children }

// IsRouter reports whether n implements Router.
func IsRouter(n Node) (Router, bool) {
	r, ok := n.(Router)
	return r, ok
}

// IsParallelContainer reports whether n implements ParallelContainer.
func IsParallelContainer(n Node) (ParallelContainer, bool) {
	p, ok := n.(ParallelContainer)
	return p, ok
}

// IsAsync reports whether n implements AsyncNode.
func IsAsync(n Node) (AsyncNode, bool) {
	a, ok := n.(AsyncNode)
	return a, ok
}
