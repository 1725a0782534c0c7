package emit

import "context"

// NullEmitter implements Emitter by discarding all events.
//
// This is a no-op emitter for environments where observability overhead is
// unwanted: unit tests of node logic that don't care about the event
// stream, or a production deployment that routes node/resilience/MCP
// events to a different sink entirely. It implements the Emitter interface
// but does nothing with emitted events.
//
// Example usage:
//
//	// Disable all event logging
//	engine, err := graph.NewEngine(registry, graph.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
//
// Returns a NullEmitter that discards all events without any processing.
// This is safe for concurrent use and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
}

// EmitBatch discards every event in the batch and always reports success:
// there is no sink whose configuration could fail.
func (n *NullEmitter) EmitBatch(_ context.Context, events []Event) error {
	return nil
}

// Flush is a no-op: NullEmitter buffers nothing to flush.
func (n *NullEmitter) Flush(_ context.Context) error {
	return nil
}
