package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskflow/workflowcore/graph"
)

// WebSocket timing, grounded on the same ping/pong/write-deadline discipline
// used for server-push connections elsewhere in this ecosystem.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = 20 * time.Second
)

// WebSocketTransport keeps one long-lived duplex connection open to an MCP
// server, dispatching a background read pump that demultiplexes incoming
// frames by correlation ID and a ticker that keeps the connection alive with
// periodic pings. Unlike HTTPTransport it supports server-initiated
// notifications, delivered to any registered NotifyFunc.
type WebSocketTransport struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	// Notify, if set, receives any incoming frame whose ID does not match a
	// pending request — a server-initiated notification.
	Notify func(Response)
}

// DialWebSocketTransport connects to cfg.Endpoint and starts its read pump
// and heartbeat.
func DialWebSocketTransport(ctx context.Context, cfg ServerConfig) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{}
	header := map[string][]string{}
	if cfg.Token != "" {
		header["Authorization"] = []string{"Bearer " + cfg.Token}
	}
	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		return nil, graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error())
	}

	t := &WebSocketTransport{
		conn:    conn,
		pending: make(map[string]chan Response),
	}
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go t.readPump()
	go t.heartbeat()
	return t, nil
}

func (t *WebSocketTransport) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.failAllPending(graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error()))
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue // malformed frame; the correlated request times out instead
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if ok {
			ch <- resp
			continue
		}
		if t.Notify != nil {
			t.Notify(resp)
		}
	}
}

func (t *WebSocketTransport) heartbeat() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		_ = t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	}
}

func (t *WebSocketTransport) failAllPending(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		ch <- Response{ID: id, Error: &ResponseError{Code: -1, Message: err.Error()}}
		delete(t.pending, id)
	}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Response{}, graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, "connection closed")
	}
	t.pending[req.ID] = ch
	t.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return Response{}, err
	}

	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return Response{}, graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error())
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return Response{}, graph.NewWorkflowError(graph.KindTransient, graph.SeverityWarning, graph.CodeTransportTimeout, ctx.Err().Error())
	}
}

// Multiplexed implements Transport: one connection carries many concurrent
// in-flight requests, demultiplexed by correlation ID.
func (t *WebSocketTransport) Multiplexed() bool { return true }

// Close implements Transport.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
