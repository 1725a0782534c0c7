package graph

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// StreamConfig configures a ChunkBuffer.
type StreamConfig struct {
	MaxChunkSize  int
	MinChunkDelay time.Duration
	MaxChunkDelay time.Duration
	BufferSize    int
}

// DefaultStreamConfig returns this package's documented streaming defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxChunkSize:  1024,
		MinChunkDelay: 10 * time.Millisecond,
		MaxChunkDelay: 100 * time.Millisecond,
		BufferSize:    1000,
	}
}

// chunk is one buffered unit of streamed content.
type chunk struct {
	data  string
	final bool
}

// ChunkBuffer is a bounded producer/consumer queue used by chunk-producing
// nodes (LLM streaming, long-running tool output) to throttle emission.
// Enqueue on a full buffer fails immediately with ErrBufferOverflow, a
// permanent error for the producer call. Dequeue paces emissions with a
// token-bucket limiter between MinChunkDelay and MaxChunkDelay, trimming
// each emission to at most MaxChunkSize characters.
type ChunkBuffer struct {
	cfg     StreamConfig
	ch      chan chunk
	limiter *rate.Limiter
}

// NewChunkBuffer returns a ChunkBuffer configured by cfg.
func NewChunkBuffer(cfg StreamConfig) *ChunkBuffer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultStreamConfig().BufferSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultStreamConfig().MaxChunkSize
	}
	if cfg.MinChunkDelay <= 0 {
		cfg.MinChunkDelay = DefaultStreamConfig().MinChunkDelay
	}
	if cfg.MaxChunkDelay <= 0 {
		cfg.MaxChunkDelay = DefaultStreamConfig().MaxChunkDelay
	}

	// A limiter whose rate corresponds to one emission per MinChunkDelay,
	// with a single-token burst: consumers never dequeue faster than the
	// minimum pacing interval, while WaitN's context deadline (driven by
	// the caller) lets pressure extend the effective delay up to
	// MaxChunkDelay.
	everyMin := rate.Every(cfg.MinChunkDelay)
	return &ChunkBuffer{
		cfg:     cfg,
		ch:      make(chan chunk, cfg.BufferSize),
		limiter: rate.NewLimiter(everyMin, 1),
	}
}

// Enqueue adds data as one or more chunks of at most MaxChunkSize
// characters. A full buffer returns ErrBufferOverflow without blocking;
// chunks of a split value queued before the overflow stay queued.
func (b *ChunkBuffer) Enqueue(data string, final bool) error {
	runes := []rune(data)
	for len(runes) > b.cfg.MaxChunkSize {
		select {
		case b.ch <- chunk{data: string(runes[:b.cfg.MaxChunkSize])}:
			runes = runes[b.cfg.MaxChunkSize:]
		default:
			return ErrBufferOverflow()
		}
	}
	select {
	case b.ch <- chunk{data: string(runes), final: final}:
		return nil
	default:
		return ErrBufferOverflow()
	}
}

// Dequeue blocks, subject to the configured pacing and ctx, and returns the
// next chunk's text and whether it was the final chunk. The pacing wait is
// bounded by MaxChunkDelay so consumer pressure can never stall a dequeue
// indefinitely.
func (b *ChunkBuffer) Dequeue(ctx context.Context) (string, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.MaxChunkDelay)
	defer cancel()
	if err := b.limiter.Wait(waitCtx); err != nil && ctx.Err() != nil {
		return "", false, ctx.Err()
	}

	select {
	case c := <-b.ch:
		return c.data, c.final, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Len returns the number of chunks currently buffered.
func (b *ChunkBuffer) Len() int { return len(b.ch) }

// Flush drains any remaining buffered chunks into a single final emission,
// per the "final-chunk flag flushes remaining content" rule.
func (b *ChunkBuffer) Flush() string {
	var out string
	for {
		select {
		case c := <-b.ch:
			out += c.data
		default:
			return out
		}
	}
}
