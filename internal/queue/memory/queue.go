// Package memory provides a bounded in-memory run queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Queue is a bounded queue of run IDs with context-aware operations.
// Submissions beyond capacity block until the dispatcher drains.
type Queue struct {
	ch      chan string
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 16
	}
	return &Queue{
		ch: make(chan string, capacity),
	}
}

// Enqueue pushes a run ID or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, runID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- runID:
		return nil
	}
}

// Dequeue pops the next run ID, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case runID, ok := <-q.ch:
		if !ok {
			return "", errors.New("queue closed")
		}
		return runID, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
