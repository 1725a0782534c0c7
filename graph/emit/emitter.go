// Package emit carries node and task lifecycle events out of an Engine run
// to a pluggable observability backend (a log line, an OpenTelemetry span,
// an in-memory buffer for tests).
package emit

import "context"

// Emitter receives the node_start/node_end/task_error/task_complete events
// an Engine produces while running a plan. Implementations must be
// non-blocking and thread-safe: Emit is called from whichever goroutine is
// currently executing a node, including concurrently from parallel branches.
type Emitter interface {
	// Emit sends a single event. Must not block the calling node and must
	// not panic; a misbehaving backend should log internally and drop the
	// event rather than propagate an error back into the run.
	Emit(event Event)

	// EmitBatch sends events in the order given. Used by backends where
	// batching amortizes overhead (e.g. a BufferedEmitter flushing to a
	// sink). Returns an error only for configuration-level failures;
	// per-event delivery failures should be logged, not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any events buffered by this Emitter have been
	// delivered, or ctx is done. Safe to call more than once. A backend with
	// no internal buffering (LogEmitter) treats this as a no-op.
	Flush(ctx context.Context) error
}
