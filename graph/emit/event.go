package emit

// Event is an observability record an Engine emits around node and task
// lifecycle transitions (node_start, node_end, task_error, task_complete).
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	RunID string

	// Step is a sequential step number within the run, for emitters and
	// filters that order events by it. graph.Engine does not number its
	// events: every event it emits has Step zero.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for workflow-level events.
	NodeID string

	// Msg names the event: node_start, node_end, task_error, task_complete.
	Msg string

	// Meta carries event-specific data. Common keys: "duration_ms",
	// "status", "error", "retry_attempt", "circuit_state", "mcp_server",
	// "tool_name".
	Meta map[string]interface{}
}
