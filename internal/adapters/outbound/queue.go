// Package outbound holds the bounded per-transport send queue shared by every adapter.
package outbound

import (
	"sync"

	"github.com/dkeye/confrelay/internal/core"
)

// Queue is a bounded FIFO drained by exactly one writer goroutine.
// Producers never block: a full queue is core.ErrBackpressure.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
	failed error
}

func NewQueue[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{ch: make(chan T, size)}
}

func (q *Queue[T]) TrySend(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		if q.failed != nil {
			return q.failed
		}
		return core.ErrTransportClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close stops accepting items. Queued items are still handed to the writer.
// It reports whether this call closed the queue.
func (q *Queue[T]) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	close(q.ch)
	return true
}

// Fail closes the queue and makes later sends report err.
func (q *Queue[T]) Fail(err error) {
	q.mu.Lock()
	if q.failed == nil {
		q.failed = err
	}
	q.mu.Unlock()
	q.Close()
}

func (q *Queue[T]) Len() int { return len(q.ch) }

// Drain calls write for every item until the queue is closed and empty. After
// the first write error the queue is failed and remaining items are discarded.
// It returns that error, or nil after a clean close.
func (q *Queue[T]) Drain(write func(T) error) error {
	var werr error
	for v := range q.ch {
		if werr != nil {
			continue
		}
		if err := write(v); err != nil {
			werr = err
			q.Fail(err)
		}
	}
	return werr
}
