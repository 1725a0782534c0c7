package graph

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestChunkBuffer_EnqueueDequeue(t *testing.T) {
	t.Run("dequeues an enqueued chunk with its final flag intact", func(t *testing.T) {
		b := NewChunkBuffer(StreamConfig{MinChunkDelay: time.Millisecond, MaxChunkDelay: 50 * time.Millisecond, BufferSize: 4})
		if err := b.Enqueue("hello", true); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		data, final, err := b.Dequeue(context.Background())
		if err != nil || data != "hello" || !final {
			t.Errorf("Dequeue() = %q, %v, %v", data, final, err)
		}
	})

	t.Run("splits data larger than MaxChunkSize into multiple chunks", func(t *testing.T) {
		b := NewChunkBuffer(StreamConfig{MaxChunkSize: 3, MinChunkDelay: time.Millisecond, MaxChunkDelay: 50 * time.Millisecond, BufferSize: 10})
		if err := b.Enqueue("abcdefg", true); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		var parts []string
		for i := 0; i < 3; i++ {
			data, _, err := b.Dequeue(context.Background())
			if err != nil {
				t.Fatalf("Dequeue[%d]: %v", i, err)
			}
			parts = append(parts, data)
		}
		if strings.Join(parts, "") != "abcdefg" {
			t.Errorf("reassembled = %q, want abcdefg", strings.Join(parts, ""))
		}
	})

	t.Run("Enqueue on a full buffer returns ErrBufferOverflow", func(t *testing.T) {
		b := NewChunkBuffer(StreamConfig{MinChunkDelay: time.Millisecond, MaxChunkDelay: 50 * time.Millisecond, BufferSize: 1})
		if err := b.Enqueue("a", false); err != nil {
			t.Fatalf("first Enqueue: %v", err)
		}
		err := b.Enqueue("b", false)
		we, ok := err.(*WorkflowError)
		if !ok || we.Code != CodeBufferOverflow {
			t.Fatalf("expected %s, got %v", CodeBufferOverflow, err)
		}
	})

	t.Run("Dequeue respects context cancellation", func(t *testing.T) {
		b := NewChunkBuffer(StreamConfig{MinChunkDelay: time.Millisecond, MaxChunkDelay: time.Hour, BufferSize: 1})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, _, err := b.Dequeue(ctx); err == nil {
			t.Error("expected an error from Dequeue on an empty, canceled buffer")
		}
	})
}

func TestChunkBuffer_Flush(t *testing.T) {
	t.Run("drains all remaining chunks into one string", func(t *testing.T) {
		b := NewChunkBuffer(StreamConfig{MaxChunkSize: 100, MinChunkDelay: time.Millisecond, MaxChunkDelay: 50 * time.Millisecond, BufferSize: 10})
		_ = b.Enqueue("foo", false)
		_ = b.Enqueue("bar", true)
		if got := b.Flush(); got != "foobar" {
			t.Errorf("Flush() = %q, want foobar", got)
		}
		if b.Len() != 0 {
			t.Errorf("Len() after Flush = %d, want 0", b.Len())
		}
	})

	t.Run("Flush on an empty buffer returns an empty string", func(t *testing.T) {
		b := NewChunkBuffer(DefaultStreamConfig())
		if got := b.Flush(); got != "" {
			t.Errorf("Flush() = %q, want empty", got)
		}
	})
}
