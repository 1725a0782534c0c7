package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/taskflow/workflowcore/graph"
)

// StdioTransport runs an MCP server as a child process, writing one
// newline-delimited JSON request per line to its stdin and reading one
// newline-delimited JSON response per line from its stdout. Per §4.9 the
// child must terminate on shutdown; Close sends a shutdown request (best
// effort) and then kills the process.
//
// Request/response ordering on a pipe is implicit — the child is expected to
// reply to each request before the next is written — so Multiplexed reports
// false and callers must serialize calls on a StdioTransport.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  writeCloser
	reader *bufio.Scanner

	mu sync.Mutex
}

type writeCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

// StartStdioTransport launches cfg.Endpoint (the command) with cfg.Args and
// wires its pipes.
func StartStdioTransport(cfg ServerConfig) (*StdioTransport, error) {
	cmd := exec.Command(cfg.Endpoint, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error())
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &StdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		reader: scanner,
	}, nil
}

// Send implements Transport. It is not safe to call Send concurrently;
// callers must serialize access. The pool lends a connection to one
// borrower at a time and does not consult Multiplexed.
func (t *StdioTransport) Send(ctx context.Context, req Request) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	payload = append(payload, '\n')

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if _, err := t.stdin.Write(payload); err != nil {
			done <- result{err: graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error())}
			return
		}
		if !t.reader.Scan() {
			err := t.reader.Err()
			if err == nil {
				err = fmt.Errorf("stdio transport: child closed stdout")
			}
			done <- result{err: graph.NewWorkflowError(graph.KindTransient, graph.SeverityError, graph.CodeTransportDisconnect, err.Error())}
			return
		}
		var resp Response
		if err := json.Unmarshal(t.reader.Bytes(), &resp); err != nil {
			done <- result{err: graph.NewWorkflowError(graph.KindSystem, graph.SeverityError, graph.CodeProtocolError, "malformed mcp response line").WithCause(err)}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, graph.NewWorkflowError(graph.KindTransient, graph.SeverityWarning, graph.CodeTransportTimeout, ctx.Err().Error())
	}
}

// Multiplexed implements Transport.
func (t *StdioTransport) Multiplexed() bool { return false }

// Close sends a best-effort shutdown request, then terminates the child
// process and closes its pipes.
func (t *StdioTransport) Close() error {
	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _ = t.Send(shutdownCtx, NewRequest(MethodShutdown, nil))

	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}
