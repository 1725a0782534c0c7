// Package mcp implements the request/response tool-invocation protocol (MCP)
// used by workflow nodes to call out to external tool servers over a
// pluggable transport, plus a connection pool that keeps those connections
// warm, load-balanced, and circuit-protected.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Method names, normative for wire interop.
const (
	MethodInitialize = "initialize"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
	MethodPing        = "ping"
	MethodShutdown    = "shutdown"
)

// ProtocolVersion is this client's advertised major.minor version.
type ProtocolVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// Compatible reports whether server, as replied by the remote end, is a
// version this client can speak: server.Major must equal v.Major and
// server.Minor must not exceed v.Minor.
func (v ProtocolVersion) Compatible(server ProtocolVersion) bool {
	return server.Major == v.Major && server.Minor <= v.Minor
}

// DefaultProtocolVersion is the version this package advertises.
var DefaultProtocolVersion = ProtocolVersion{Major: 2, Minor: 0}

// Request is an outgoing MCP call. Every request carries a unique
// correlation ID so out-of-order responses on the same connection can be
// reassembled by ID.
type Request struct {
	JSONRPC       string         `json:"jsonrpc"`
	ID            string         `json:"id"`
	Method        string         `json:"method"`
	Params        map[string]any `json:"params,omitempty"`
	CorrelationID string         `json:"-"`
}

// NewRequest returns a Request for method with a freshly generated
// correlation ID.
func NewRequest(method string, params map[string]any) Request {
	id := uuid.NewString()
	return Request{
		JSONRPC:       "2.0",
		ID:            id,
		Method:        method,
		Params:        params,
		CorrelationID: id,
	}
}

// InitializeParams is the payload for an initialize request.
type InitializeParams struct {
	ClientName    string          `json:"client_name"`
	ClientVersion string          `json:"client_version"`
	ProtocolVer   ProtocolVersion `json:"protocol_version"`
}

// CallToolParams is the payload for a tools/call request.
type CallToolParams struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ContentElement is one element of a ToolCallResult's content list. Type is
// a tagged discriminator; this package recognizes "text" and "binary" and
// preserves any other tag verbatim, via Extra, so unknown content types
// reach callers unmodified instead of being dropped on decode. Wire
// encoding is handled entirely by MarshalJSON/UnmarshalJSON below, not
// struct tags.
type ContentElement struct {
	Type   string
	Text   string
	Binary string // base64
	Extra  map[string]any
}

// MarshalJSON emits type/text/binary alongside every key stashed in Extra,
// so a decode/re-encode round trip reproduces the original payload.
func (c ContentElement) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["type"] = c.Type
	if c.Text != "" {
		out["text"] = c.Text
	}
	if c.Binary != "" {
		out["binary"] = c.Binary
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes type/text/binary into their named fields and stashes
// every other key verbatim into Extra, so a content element of a type this
// package doesn't recognize survives instead of being silently dropped.
func (c *ContentElement) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["type"].(string); ok {
		c.Type = v
		delete(raw, "type")
	}
	if v, ok := raw["text"].(string); ok {
		c.Text = v
		delete(raw, "text")
	}
	if v, ok := raw["binary"].(string); ok {
		c.Binary = v
		delete(raw, "binary")
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// Response is an incoming MCP reply, correlated to its Request by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  *Result         `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
	arrived time.Time
}

// Result is the typed union of successful response payloads.
type Result struct {
	InitializeResult *InitializeResult `json:"initialize_result,omitempty"`
	ToolsList        []ToolSpec        `json:"tools_list,omitempty"`
	ToolCallResult   *ToolCallResult   `json:"tool_call_result,omitempty"`
	Raw              map[string]any    `json:"raw,omitempty"`
}

// InitializeResult is returned by a successful initialize call.
type InitializeResult struct {
	ServerName  string          `json:"server_name"`
	ProtocolVer ProtocolVersion `json:"protocol_version"`
}

// ToolSpec describes one tool a server exposes.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// ToolCallResult is returned by a successful tools/call.
type ToolCallResult struct {
	Content []ContentElement `json:"content"`
	IsError bool             `json:"is_error"`
}

// ResponseError mirrors the wire error object: codes <= 0 are reserved for
// protocol-level errors, > 0 for application-level ones, per §6.
type ResponseError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
