package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskflow/workflowcore/graph"
)

// ConnState is a connection's position in the lifecycle state machine
// described in §4.9: Connecting -> Ready -> InUse -> Idle -> Unhealthy ->
// Closed. InUse and Idle both mean "initialized and usable"; the pool moves
// a connection between them as it is checked out and returned.
type ConnState string

// Connection states.
const (
	StateConnecting ConnState = "connecting"
	StateReady      ConnState = "ready"
	StateInUse      ConnState = "in_use"
	StateIdle       ConnState = "idle"
	StateUnhealthy  ConnState = "unhealthy"
	StateClosed     ConnState = "closed"
)

// MCPClient is a single connection to one MCP server: connect -> initialize
// -> [list_tools | call_tool]* -> disconnect. Calling ListTools or CallTool
// before a successful Initialize returns a ProtocolError, per §6.
type MCPClient struct {
	serverName string
	transport  Transport

	mu               sync.Mutex
	state            ConnState
	serverVersion    ProtocolVersion
	initialized      bool
	lastUsed         time.Time
	correlationCount int
}

// NewMCPClient wraps transport for serverName, in the Connecting state.
func NewMCPClient(serverName string, transport Transport) *MCPClient {
	return &MCPClient{
		serverName: serverName,
		transport:  transport,
		state:      StateConnecting,
		lastUsed:   time.Now(),
	}
}

// State returns the connection's current lifecycle state.
func (c *MCPClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize performs the protocol handshake, negotiating protocol version
// with the server and transitioning Connecting -> Ready. A server reporting
// an incompatible minor/major version fails with CodeIncompatibleVersion and
// leaves the connection Unhealthy.
func (c *MCPClient) Initialize(ctx context.Context, clientName, clientVersion string) error {
	req := NewRequest(MethodInitialize, map[string]any{
		"client_name":    clientName,
		"client_version": clientVersion,
		"protocol_version": map[string]any{
			"major": DefaultProtocolVersion.Major,
			"minor": DefaultProtocolVersion.Minor,
		},
	})

	resp, err := c.send(ctx, req)
	if err != nil {
		c.markUnhealthy()
		return err
	}
	if resp.Error != nil {
		c.markUnhealthy()
		return wireError(resp.Error, c.serverName)
	}
	if resp.Result == nil || resp.Result.InitializeResult == nil {
		c.markUnhealthy()
		return graph.NewWorkflowError(graph.KindSystem, graph.SeverityError, graph.CodeProtocolError, "initialize returned no result").
			WithContext("server", c.serverName)
	}

	serverVer := resp.Result.InitializeResult.ProtocolVer
	if !DefaultProtocolVersion.Compatible(serverVer) {
		c.markUnhealthy()
		return graph.NewWorkflowError(graph.KindPermanent, graph.SeverityError, graph.CodeIncompatibleVersion,
			fmt.Sprintf("server %q protocol version %d.%d incompatible with client %d.%d",
				c.serverName, serverVer.Major, serverVer.Minor, DefaultProtocolVersion.Major, DefaultProtocolVersion.Minor)).
			WithContext("server", c.serverName)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverVersion = serverVer
	c.state = StateReady
	c.lastUsed = time.Now()
	c.mu.Unlock()
	return nil
}

// ListTools returns the tool catalog advertised by the server.
func (c *MCPClient) ListTools(ctx context.Context) ([]ToolSpec, error) {
	if !c.requireInitialized() {
		return nil, c.protocolErrNotInitialized()
	}
	resp, err := c.send(ctx, NewRequest(MethodListTools, nil))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, wireError(resp.Error, c.serverName)
	}
	if resp.Result == nil {
		return nil, nil
	}
	return resp.Result.ToolsList, nil
}

// CallTool invokes name with args and returns its result content.
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if !c.requireInitialized() {
		return nil, c.protocolErrNotInitialized()
	}
	req := NewRequest(MethodCallTool, map[string]any{"name": name, "args": args})
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, wireError(resp.Error, c.serverName)
	}
	if resp.Result == nil || resp.Result.ToolCallResult == nil {
		return nil, graph.NewWorkflowError(graph.KindSystem, graph.SeverityError, graph.CodeProtocolError, "call_tool returned no result").
			WithContext("server", c.serverName).WithContext("tool", name)
	}
	return resp.Result.ToolCallResult, nil
}

// Ping checks liveness without advancing any protocol state.
func (c *MCPClient) Ping(ctx context.Context) error {
	_, err := c.send(ctx, NewRequest(MethodPing, nil))
	return err
}

// Disconnect transitions the connection to Closed and releases its
// transport. Per §4.9, a stdio-backed connection's child process must
// terminate here; StdioTransport.Close sends a shutdown request itself.
func (c *MCPClient) Disconnect() error {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return c.transport.Close()
}

// MarkIdle transitions InUse -> Idle; the pool calls this when a checked-out
// connection is returned.
func (c *MCPClient) MarkIdle() {
	c.mu.Lock()
	if c.state == StateInUse {
		c.state = StateIdle
	}
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// MarkInUse transitions Ready/Idle -> InUse; the pool calls this on checkout.
func (c *MCPClient) MarkInUse() {
	c.mu.Lock()
	if c.state == StateReady || c.state == StateIdle {
		c.state = StateInUse
	}
	c.mu.Unlock()
}

// IdleSince returns how long the connection has sat unused.
func (c *MCPClient) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsed)
}

// IsHealthy reports whether the connection is in a usable, non-closed,
// non-unhealthy state.
func (c *MCPClient) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady || c.state == StateIdle || c.state == StateInUse
}

func (c *MCPClient) markUnhealthy() {
	c.mu.Lock()
	c.state = StateUnhealthy
	c.mu.Unlock()
}

func (c *MCPClient) requireInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *MCPClient) protocolErrNotInitialized() *graph.WorkflowError {
	return graph.NewWorkflowError(graph.KindPermanent, graph.SeverityError, graph.CodeProtocolError,
		"call_tool/list_tools issued before initialize").WithContext("server", c.serverName)
}

// send transmits req and returns the transport's error unchanged; the
// Transport implementations assign codes such as CodeTransportTimeout and
// CodeTransportDisconnect. A failure that arrives once ctx is done also
// marks the connection Unhealthy, since a timed-out connection's in-flight
// state is unknown.
func (c *MCPClient) send(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	c.correlationCount++
	c.mu.Unlock()

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			c.markUnhealthy()
		}
		return Response{}, err
	}
	return resp, nil
}

// wireError converts a wire-level ResponseError into a WorkflowError. Codes
// <= 0 are protocol errors per §6; positive codes are application errors
// surfaced from the tool itself and classified as Business so they are
// never silently retried.
func wireError(e *ResponseError, server string) *graph.WorkflowError {
	if e.Code <= 0 {
		return graph.NewWorkflowError(graph.KindSystem, graph.SeverityError, graph.CodeProtocolError, e.Message).
			WithContext("server", server).WithContext("wire_code", e.Code).WithContext("data", e.Data)
	}
	return graph.NewWorkflowError(graph.KindBusiness, graph.SeverityError, graph.CodeProtocolError, e.Message).
		WithContext("server", server).WithContext("wire_code", e.Code).WithContext("data", e.Data)
}
