package graph

import "sync"

// NodeRegistry maps a stable node key to its owning instance. Registration
// is append-only: once the registry is armed (by Arm, which NewEngine calls;
// Lookup does not arm it), further registration is rejected so that
// a running engine can never observe a registry mutating underneath it.
type NodeRegistry struct {
	mu     sync.RWMutex
	nodes  map[string]Node
	armed  bool
}

// NewNodeRegistry returns an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]Node)}
}

// Register adds node under its own Key(). Returns an error if the registry
// is already armed or if the key is already registered.
func (r *NodeRegistry) Register(node Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.armed {
		return NewWorkflowError(KindSystem, SeverityError, CodeProcessingError,
			"cannot register node after registry is armed").WithNodeKey(node.Key())
	}
	if _, exists := r.nodes[node.Key()]; exists {
		return NewWorkflowError(KindSystem, SeverityError, CodeProcessingError,
			"duplicate node key").WithNodeKey(node.Key())
	}
	r.nodes[node.Key()] = node
	return nil
}

// Arm freezes the registry against further registration. Idempotent.
func (r *NodeRegistry) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
}

// Lookup returns the node registered under key, or ErrNodeNotFound.
func (r *NodeRegistry) Lookup(key string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[key]
	if !ok {
		return nil, ErrNodeNotFound(key)
	}
	return n, nil
}

// Has reports whether key is registered, without error allocation.
func (r *NodeRegistry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[key]
	return ok
}

// Keys returns all registered keys, order unspecified.
func (r *NodeRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		keys = append(keys, k)
	}
	return keys
}
