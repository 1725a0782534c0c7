package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskflow/workflowcore/graph"
)

func TestHTTPTransport_Send(t *testing.T) {
	t.Run("posts the request and decodes the correlated response", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			var req Request
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(Response{ID: req.ID, Result: &Result{Raw: map[string]any{"ok": true}}})
		}))
		defer srv.Close()

		tr := NewHTTPTransport(ServerConfig{Endpoint: srv.URL, Token: "secret"})
		req := NewRequest(MethodPing, nil)
		resp, err := tr.Send(context.Background(), req)
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if resp.ID != req.ID {
			t.Errorf("ID = %q, want %q", resp.ID, req.ID)
		}
		if gotAuth != "Bearer secret" {
			t.Errorf("Authorization header = %q, want Bearer secret", gotAuth)
		}
		if tr.Multiplexed() != true {
			t.Error("Multiplexed() = false, want true")
		}
	})

	t.Run("classifies a connection failure as a transient transport error", func(t *testing.T) {
		tr := NewHTTPTransport(ServerConfig{Endpoint: "http://127.0.0.1:1"})
		_, err := tr.Send(context.Background(), NewRequest(MethodPing, nil))
		we, ok := err.(*graph.WorkflowError)
		if !ok || we.Code != graph.CodeTransportDisconnect {
			t.Fatalf("expected %s, got %v", graph.CodeTransportDisconnect, err)
		}
	})

	t.Run("classifies a malformed response body as a protocol error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		tr := NewHTTPTransport(ServerConfig{Endpoint: srv.URL})
		_, err := tr.Send(context.Background(), NewRequest(MethodPing, nil))
		we, ok := err.(*graph.WorkflowError)
		if !ok || we.Code != graph.CodeProtocolError {
			t.Fatalf("expected %s, got %v", graph.CodeProtocolError, err)
		}
	})

	t.Run("Close is a no-op", func(t *testing.T) {
		tr := NewHTTPTransport(ServerConfig{Endpoint: "http://example.invalid"})
		if err := tr.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
}
