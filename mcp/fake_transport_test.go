package mcp

import (
	"context"
	"sync"
)

// fakeTransport is an in-memory Transport double: each method name is
// answered by a handler installed via respond, or fails the test-visible way
// by returning errNoHandler when none is installed.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(Request) (Response, error)
	closed   bool
	sendN    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(Request) (Response, error))}
}

func (f *fakeTransport) respond(method string, h func(Request) (Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeTransport) Send(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.sendN++
	h, ok := f.handlers[req.Method]
	f.mu.Unlock()
	if !ok {
		return Response{}, errNoHandler(req.Method)
	}
	return h(req)
}

func (f *fakeTransport) Multiplexed() bool { return true }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type errNoHandler string

func (e errNoHandler) Error() string { return "fake transport: no handler for method " + string(e) }

// okInitializeHandler answers an initialize call with a compatible server
// version.
func okInitializeHandler(serverVer ProtocolVersion) func(Request) (Response, error) {
	return func(req Request) (Response, error) {
		return Response{
			ID: req.ID,
			Result: &Result{
				InitializeResult: &InitializeResult{ServerName: "fake-server", ProtocolVer: serverVer},
			},
		}, nil
	}
}
