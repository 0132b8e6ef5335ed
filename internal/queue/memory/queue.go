// Package memory provides the in-process job queue feeding dispatch workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of keyword jobs with context-aware
// operations. One queue serves one dispatch: the dispatcher fills it, closes
// intake, and workers drain it until ErrClosed.
type Queue struct {
	ch      chan search.Job
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{
		ch: make(chan search.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job search.Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation. Jobs queued
// before Close remain dequeueable until the queue is drained.
func (q *Queue) Dequeue(ctx context.Context) (search.Job, error) {
	select {
	case <-ctx.Done():
		return search.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return search.Job{}, ErrClosed
		}
		return job, nil
	}
}

// Close stops intake. Safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
