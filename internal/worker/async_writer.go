package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"mathtutor-gateway/internal/graphcache"
)

var (
	ErrQueueFull    = errors.New("cache write queue full")
	ErrWriterClosed = errors.New("cache writer closed")
)

type job struct {
	ctx   context.Context
	write graphcache.Write
}

// AsyncWriter applies cache writes on a single background goroutine in the
// order they were enqueued.
type AsyncWriter struct {
	applier Applier
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

func NewAsyncWriter(applier Applier, buffer int, logger zerolog.Logger) *AsyncWriter {
	if buffer <= 0 {
		buffer = 256
	}
	w := &AsyncWriter{
		applier: applier,
		logger:  logger.With().Str("component", "async_writer").Logger(),
		jobs:    make(chan job, buffer),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue queues w without waiting for it to be stored.
func (a *AsyncWriter) Enqueue(ctx context.Context, w graphcache.Write) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrWriterClosed
	}
	select {
	case a.jobs <- job{ctx: ctx, write: w}:
		return nil
	default:
		return fmt.Errorf("enqueue node %s: %w", w.NodeID, ErrQueueFull)
	}
}

func (a *AsyncWriter) run() {
	defer close(a.done)
	for j := range a.jobs {
		if err := a.applier.Apply(j.ctx, j.write); err != nil {
			a.logger.Warn().Err(err).
				Str("node_id", j.write.NodeID).
				Str("parent_id", j.write.ParentID).
				Msg("cache write failed")
		}
	}
}

// Close stops accepting writes and waits for queued ones to finish or for
// ctx to end.
func (a *AsyncWriter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain cache writes failed: %w", ctx.Err())
	}
}
