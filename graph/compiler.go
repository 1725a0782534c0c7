package graph

import "sort"

// Compiler turns a WorkflowSchema into a CompiledPlan, rejecting cycles,
// unreachable nodes, and ill-formed routers. Compilation is pure: the same
// schema always compiles to a structurally equivalent plan (§8 idempotence
// property), and the result is never mutated afterward.
type Compiler struct {
	registry *NodeRegistry
}

// NewCompiler returns a Compiler that validates router shape against
// registry. AsyncNode placement is not checked.
func NewCompiler(registry *NodeRegistry) *Compiler {
	return &Compiler{registry: registry}
}

// Compile validates schema and, if valid, returns an immutable CompiledPlan.
func (c *Compiler) Compile(schema WorkflowSchema) (*CompiledPlan, error) {
	byKey := schema.nodeByKey()

	if _, ok := byKey[schema.Start]; !ok {
		return nil, ErrValidationFailed("start node " + schema.Start + " not declared in schema")
	}

	for _, cfg := range schema.Nodes {
		for _, succ := range cfg.Successors {
			if _, ok := byKey[succ]; !ok {
				return nil, ErrValidationFailed("node " + cfg.Key + " declares undefined successor " + succ)
			}
		}
		for _, child := range cfg.ParallelChildren {
			if _, ok := byKey[child]; !ok {
				return nil, ErrValidationFailed("parallel container " + cfg.Key + " declares undefined child " + child)
			}
		}
		if !cfg.IsRouter && len(cfg.Successors) > 1 {
			return nil, ErrInvalidRouter(cfg.Key, "", nil).WithContext("reason", "non-router node with multiple successors")
		}
		if cfg.IsRouter && len(cfg.Successors) == 0 {
			return nil, ErrValidationFailed("router " + cfg.Key + " declares no successors")
		}
		if c.registry != nil {
			node, err := c.registry.Lookup(cfg.Key)
			if err == nil {
				if _, isRouter := IsRouter(node); cfg.IsRouter && !isRouter {
					return nil, ErrValidationFailed("node " + cfg.Key + " marked is_router but does not implement Router")
				}
				if _, isParallel := IsParallelContainer(node); cfg.IsParallel && !isParallel {
					return nil, ErrValidationFailed("node " + cfg.Key + " marked is_parallel but does not implement ParallelContainer")
				}
			}
		}
	}

	if path := detectCycle(schema, byKey); path != nil {
		return nil, ErrCycleDetected(path)
	}

	reachable := reachableFrom(schema.Start, byKey)
	if schema.StrictUnreachable {
		var unreachable []string
		for _, cfg := range schema.Nodes {
			if !reachable[cfg.Key] {
				unreachable = append(unreachable, cfg.Key)
			}
		}
		if len(unreachable) > 0 {
			sort.Strings(unreachable)
			return nil, ErrUnreachableNodes(unreachable)
		}
	}

	order := make([]string, 0, len(schema.Nodes))
	for _, cfg := range schema.Nodes {
		order = append(order, cfg.Key)
	}

	return &CompiledPlan{schema: schema, byKey: byKey, order: order}, nil
}

// detectCycle runs a DFS over the non-router, non-reentrant edge graph and
// returns the first back-edge path found, or nil if acyclic. A router's
// outgoing edges are never followed (routers may legitimately target any
// node, including ones already visited), and a non-router successor edge
// into a node marked Reentrant is skipped as well. Parallel-child edges are
// always followed.
func detectCycle(schema WorkflowSchema, byKey map[string]*NodeConfig) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(schema.Nodes))
	for _, cfg := range schema.Nodes {
		color[cfg.Key] = white
	}

	var path []string
	var visit func(key string) []string
	visit = func(key string) []string {
		color[key] = gray
		path = append(path, key)

		cfg := byKey[key]
		if cfg != nil && !cfg.IsRouter {
			for _, succ := range cfg.Successors {
				if byKey[succ] != nil && byKey[succ].Reentrant {
					continue
				}
				switch color[succ] {
				case gray:
					return append(append([]string{}, path...), succ)
				case white:
					if found := visit(succ); found != nil {
						return found
					}
				}
			}
			for _, child := range cfg.ParallelChildren {
				switch color[child] {
				case gray:
					return append(append([]string{}, path...), child)
				case white:
					if found := visit(child); found != nil {
						return found
					}
				}
			}
		}

		path = path[:len(path)-1]
		color[key] = black
		return nil
	}

	// Deterministic iteration order for a stable "first back-edge" report.
	keys := make([]string, 0, len(schema.Nodes))
	for _, cfg := range schema.Nodes {
		keys = append(keys, cfg.Key)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if color[k] == white {
			if found := visit(k); found != nil {
				return found
			}
		}
	}
	return nil
}

// reachableFrom computes the set of node keys reachable from start,
// following both successor and parallel-child edges (router targets
// included, since at runtime a router can reach any declared successor).
func reachableFrom(start string, byKey map[string]*NodeConfig) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cfg := byKey[key]
		if cfg == nil {
			continue
		}
		for _, succ := range cfg.Successors {
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
		for _, child := range cfg.ParallelChildren {
			if !seen[child] {
				seen[child] = true
				stack = append(stack, child)
			}
		}
	}
	return seen
}
