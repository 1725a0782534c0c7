// Package emit provides event emission and observability for graph execution.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
// - Text mode (default): Human-readable format with key=value pairs.
// - JSON mode: Machine-readable JSON format, one event per line.
//
// In text mode, a fixed set of domain keys — status, duration_ms, mcp_server,
// tool_name, retry_attempt, circuit_state, error — are rendered as their own
// key=value tokens in a stable order rather than dumped as a JSON blob, so a
// node's MCP call and resilience outcome read the same way on every line
// regardless of which subset a given node populated. Any other Meta key
// falls back to a trailing JSON blob.
//
// Example text output:
//
//	[node_start] runID=run-001 step=0 nodeID=search-tool
//	[node_end] runID=run-001 step=0 nodeID=search-tool status=success duration_ms=120 mcp_server=search tool_name=web_search
//
// Example JSON output:
//
//	{"runID":"run-001","step":0,"nodeID":"search-tool","msg":"node_start","meta":null}
//	{"runID":"run-001","step":0,"nodeID":"search-tool","msg":"node_end","meta":{"duration_ms":120,"status":"success"}}
//
// Usage:
//
//	// Text output to stdout.
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//
//	// JSON output to file.
//	f, _ := os.Create("events.jsonl")
//	defer func() { _ = f.Close() }()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter
//
// Parameters:
// - writer: Where to write the log output (e.g., os.Stdout, file).
// - jsonMode: If true, emit JSON format; if false, emit text format.
//
// Returns a LogEmitter that writes structured event data to the provided writer.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

// emitJSON writes event as JSON to the writer
func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}{
		RunID:  event.RunID,
		Step:   event.Step,
		NodeID: event.NodeID,
		Msg:    event.Msg,
		Meta:   event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

// textMetaKeys is the fixed rendering order for the recognized Meta keys:
// node outcome (status, duration_ms, which graph.Engine sets on node_end),
// MCP tool-call identity (mcp_server, tool_name), resilience outcome
// (retry_attempt, circuit_state), and a terminal error string (set on
// task_error).
var textMetaKeys = []string{"status", "duration_ms", "mcp_server", "tool_name", "retry_attempt", "circuit_state", "error"}

// emitText writes event as human-readable text to the writer.
func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] runID=%s step=%d nodeID=%s",
		event.Msg, event.RunID, event.Step, event.NodeID)

	if len(event.Meta) > 0 {
		remaining := make(map[string]interface{}, len(event.Meta))
		for k, v := range event.Meta {
			remaining[k] = v
		}
		for _, key := range textMetaKeys {
			if v, ok := remaining[key]; ok {
				_, _ = fmt.Fprintf(l.writer, " %s=%v", key, v)
				delete(remaining, key)
			}
		}
		if len(remaining) > 0 {
			if metaJSON, err := json.Marshal(remaining); err == nil {
				_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
			} else {
				_, _ = fmt.Fprintf(l.writer, " meta=%v", remaining)
			}
		}
	}

	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch sends multiple events in a single operation for improved performance.
//
// In text mode, events are written one per line in the same domain-aware
// format as Emit. In JSON mode, events are written as JSONL (one per line).
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	if l.jsonMode {
		for _, event := range events {
			l.emitJSON(event)
		}
	} else {
		for _, event := range events {
			l.emitText(event)
		}
	}

	return nil
}

// Flush ensures all buffered events are sent to the backend.
//
// For LogEmitter, this is a no-op: every write goes directly to the
// underlying io.Writer, which owns its own buffering policy (wrap it in a
// bufio.Writer and call Flush on that directly if you need one).
//
// Provided to satisfy the Emitter interface alongside emitters (e.g.
// OTelEmitter) that do require flushing.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
