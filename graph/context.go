package graph

import (
	"encoding/json"
	"sync"
	"time"
)

// TaskContext is the mutable record that flows through a compiled workflow.
//
// It carries the original event input, the accumulated per-node outputs, and
// a free-form metadata bag. Identity, creation timestamp, and workflow type
// are fixed at construction and never change; event_data is never mutated
// after creation. Every other field is written exclusively by the node that
// owns the corresponding key.
//
// TaskContext is safe for concurrent reads by multiple goroutines once
// handed to the engine; writes are serialized by the engine (sequential
// nodes) or merged under lock (parallel containers) — node implementations
// should not retain a TaskContext pointer across suspension points without
// going through Clone or the accessor methods below.
type TaskContext struct {
	mu sync.RWMutex

	id           string
	workflowType string
	createdAt    time.Time

	eventData any
	nodes     map[string]any
	metadata  map[string]any
}

// NewTaskContext constructs a TaskContext for a fresh workflow run.
func NewTaskContext(id, workflowType string, eventData any) *TaskContext {
	return &TaskContext{
		id:           id,
		workflowType: workflowType,
		createdAt:    time.Now(),
		eventData:    eventData,
		nodes:        make(map[string]any),
		metadata:     make(map[string]any),
	}
}

// ID returns the task's unique identity. Immutable for the life of the task.
func (tc *TaskContext) ID() string { return tc.id }

// WorkflowType returns the workflow type tag this task was created under.
func (tc *TaskContext) WorkflowType() string { return tc.workflowType }

// CreatedAt returns the task's creation timestamp.
func (tc *TaskContext) CreatedAt() time.Time { return tc.createdAt }

// EventData returns the original structured input. Never mutated after
// creation, so it is returned without copying.
func (tc *TaskContext) EventData() any {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.eventData
}

// NodeOutput returns the last value written under key, and whether it was
// present.
func (tc *TaskContext) NodeOutput(key string) (any, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	v, ok := tc.nodes[key]
	return v, ok
}

// SetNodeOutput overwrites the output recorded for key. Only the node that
// owns key should call this; the engine enforces that by key parameter, not
// by identity, so misuse is a programming error the caller must avoid.
func (tc *TaskContext) SetNodeOutput(key string, value any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.nodes[key] = value
}

// Nodes returns a shallow copy of the node-output map, safe to range over
// without holding the context's lock.
func (tc *TaskContext) Nodes() map[string]any {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make(map[string]any, len(tc.nodes))
	for k, v := range tc.nodes {
		out[k] = v
	}
	return out
}

// Metadata returns the value stored under key in the free-form metadata bag.
func (tc *TaskContext) Metadata(key string) (any, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	v, ok := tc.metadata[key]
	return v, ok
}

// SetMetadata stores value under key in the metadata bag.
func (tc *TaskContext) SetMetadata(key string, value any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.metadata[key] = value
}

// MetadataSnapshot returns a shallow copy of the entire metadata map.
func (tc *TaskContext) MetadataSnapshot() map[string]any {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make(map[string]any, len(tc.metadata))
	for k, v := range tc.metadata {
		out[k] = v
	}
	return out
}

// Clone produces an independent copy of tc suitable for handing to a
// parallel-container child. event_data and nodes are deep-value-cloned via a
// JSON round trip (sufficient for the opaque structured values this package
// deals in, and matching the "deep value clone" invariant); metadata is
// intentionally shared by reference across clones — see Open Question 1 in
// DESIGN.md. MergeChild does not copy metadata; a metadata write made
// through a clone lands directly in the shared map.
func (tc *TaskContext) Clone() *TaskContext {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	clone := &TaskContext{
		id:           tc.id,
		workflowType: tc.workflowType,
		createdAt:    tc.createdAt,
		eventData:    deepValueClone(tc.eventData),
		nodes:        deepValueCloneMap(tc.nodes),
		metadata:     tc.metadata,
	}
	return clone
}

// MergeChild folds a parallel-container child's outputs back into tc: every
// entry the child wrote to nodes is copied in, and any metadata mutations
// the child made (distinguishable because Clone shares the metadata map by
// reference) are already visible since metadata is a shared map. Only the
// keys listed in ownedKeys are copied; any other node output the child wrote
// is ignored. Callers that need the declared child order for tie-breaking
// call MergeChild once per child in that order.
func (tc *TaskContext) MergeChild(child *TaskContext, ownedKeys []string) {
	child.mu.RLock()
	values := make(map[string]any, len(ownedKeys))
	for _, k := range ownedKeys {
		if v, ok := child.nodes[k]; ok {
			values[k] = v
		}
	}
	child.mu.RUnlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()
	for k, v := range values {
		tc.nodes[k] = v
	}
}

// taskContextWireForm is the JSON-serializable projection of a TaskContext,
// used both for the deep-clone round trip and for MarshalJSON/UnmarshalJSON.
type taskContextWireForm struct {
	ID           string         `json:"id"`
	WorkflowType string         `json:"workflow_type"`
	CreatedAt    time.Time      `json:"created_at"`
	EventData    any            `json:"event_data"`
	Nodes        map[string]any `json:"nodes"`
	Metadata     map[string]any `json:"metadata"`
}

// MarshalJSON serializes the full TaskContext, including identity fields, so
// that a round trip through JSON preserves id, workflow type, event_data,
// node outputs and metadata exactly (§8 round-trip property).
func (tc *TaskContext) MarshalJSON() ([]byte, error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return json.Marshal(taskContextWireForm{
		ID:           tc.id,
		WorkflowType: tc.workflowType,
		CreatedAt:    tc.createdAt,
		EventData:    tc.eventData,
		Nodes:        tc.nodes,
		Metadata:     tc.metadata,
	})
}

// UnmarshalJSON restores a TaskContext from its wire form.
func (tc *TaskContext) UnmarshalJSON(data []byte) error {
	var wire taskContextWireForm
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.id = wire.ID
	tc.workflowType = wire.WorkflowType
	tc.createdAt = wire.CreatedAt
	tc.eventData = wire.EventData
	if wire.Nodes == nil {
		wire.Nodes = make(map[string]any)
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]any)
	}
	tc.nodes = wire.Nodes
	tc.metadata = wire.Metadata
	return nil
}

func deepValueClone(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func deepValueCloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepValueClone(v)
	}
	return out
}
