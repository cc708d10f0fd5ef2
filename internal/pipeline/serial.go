package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// SerialQueue executes submitted functions one at a time on a single
// worker goroutine. Compositor submissions must be issued from one
// coordination context, so every encode pass across all jobs funnels
// through a queue like this.
type SerialQueue struct {
	tasks chan serialTask

	closeOnce sync.Once
	closed    chan struct{}
}

type serialTask struct {
	fn     func() error
	result chan error
}

// NewSerialQueue creates a queue and starts its worker.
func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{
		tasks:  make(chan serialTask),
		closed: make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *SerialQueue) worker() {
	for {
		select {
		case t := <-q.tasks:
			t.result <- t.fn()
		case <-q.closed:
			return
		}
	}
}

// Do runs fn on the queue's worker and returns its error. Submission
// honors ctx, but once fn has started it runs to completion; jobs are not
// cancellable mid-pass.
func (q *SerialQueue) Do(ctx context.Context, fn func() error) error {
	t := serialTask{fn: fn, result: make(chan error, 1)}

	select {
	case q.tasks <- t:
	case <-ctx.Done():
		return fmt.Errorf("submit to compositor queue: %w", ctx.Err())
	case <-q.closed:
		return fmt.Errorf("compositor queue closed")
	}

	return <-t.result
}

// Close stops the worker. Pending Do calls that have not been picked up
// fail; a running task finishes first.
func (q *SerialQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
