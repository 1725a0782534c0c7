package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/taskflow/workflowcore/graph"
)

// HTTPTransport sends each Request as a POST of its JSON body and reads the
// correlated Response from the HTTP response body. It does not support
// server-initiated messages; Multiplexed reports true since each call owns
// its own *http.Request independent of any other in-flight call.
type HTTPTransport struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPTransport returns an HTTPTransport posting to cfg.Endpoint.
func NewHTTPTransport(cfg ServerConfig) *HTTPTransport {
	return &HTTPTransport{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{},
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal mcp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read mcp response body: %w", err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, graph.NewWorkflowError(graph.KindSystem, graph.SeverityError, graph.CodeProtocolError, "malformed mcp response body").WithCause(err)
	}
	return out, nil
}

// Multiplexed implements Transport.
func (t *HTTPTransport) Multiplexed() bool { return true }

// Close implements Transport. HTTPTransport holds no persistent resources.
func (t *HTTPTransport) Close() error { return nil }
