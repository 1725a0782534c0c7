package mcp

import (
	"context"
	"fmt"
)

// Transport abstracts the wire carrying MCP requests and responses. Send
// must be safe for a single in-flight call per connection unless the
// implementation documents multiplexing support. The pool lends each
// connection to one borrower at a time and does not itself consult
// Multiplexed().
type Transport interface {
	// Send transmits req and blocks for its correlated Response.
	Send(ctx context.Context, req Request) (Response, error)

	// Multiplexed reports whether multiple concurrent Send calls on this
	// transport are safe (true for HTTP and WebSocket, false for stdio
	// pipes where request/response ordering is implicit).
	Multiplexed() bool

	// Close releases transport resources (sockets, child processes).
	Close() error
}

// TransportFactory constructs a Transport for a server identity. Kept as a
// function type, not a concrete struct, so the pool can inject fakes in
// tests without a network dependency.
type TransportFactory func(ctx context.Context, cfg ServerConfig) (Transport, error)

// ServerConfig names one MCP server endpoint and how to reach it.
type ServerConfig struct {
	Name          string
	Kind          TransportKind
	Endpoint      string // URL for HTTP/WebSocket, command path for stdio
	Args          []string // stdio process arguments
	Token         string
	ClientName    string
	ClientVersion string
}

// TransportKind enumerates the supported transport implementations.
type TransportKind string

// Transport kinds.
const (
	TransportHTTP      TransportKind = "http"
	TransportWebSocket TransportKind = "websocket"
	TransportStdio     TransportKind = "stdio"
)

// DefaultTransportFactory dispatches on cfg.Kind to build the appropriate
// Transport implementation. Tests inject their own TransportFactory instead
// of this one, the same seam the pool's predecessor used for fakes.
func DefaultTransportFactory(ctx context.Context, cfg ServerConfig) (Transport, error) {
	switch cfg.Kind {
	case TransportHTTP:
		return NewHTTPTransport(cfg), nil
	case TransportWebSocket:
		return DialWebSocketTransport(ctx, cfg)
	case TransportStdio:
		return StartStdioTransport(cfg)
	default:
		return nil, fmt.Errorf("mcp: unknown transport kind %q", cfg.Kind)
	}
}
