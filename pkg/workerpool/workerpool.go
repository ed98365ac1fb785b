// Package workerpool runs submitted tasks on a fixed set of workers, each owning
// slot-local state that is never shared with another worker.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by futures submitted to a closed pool.
var ErrClosed = errors.New("worker pool closed")

// Pool executes tasks on workerCount goroutines. Every worker receives its own slot
// value S when it runs a task.
type Pool[S any] struct {
	tasks  chan func(S)
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New starts a pool. newSlot is called once per worker to build its slot state.
func New[S any](workerCount int, newSlot func(slot int) S) *Pool[S] {
	if workerCount <= 0 {
		workerCount = 1
	}
	p := &Pool[S]{
		tasks: make(chan func(S), workerCount*2),
	}
	for i := 0; i < workerCount; i++ {
		slot := newSlot(i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task(slot)
			}
		}()
	}
	return p
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool[S]) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues fn on the pool and returns a future for its result. It blocks only
// while the pool queue is full. A panic inside fn fails the future.
func Submit[S, T any](ctx context.Context, p *Pool[S], fn func(context.Context, S) (T, error)) *Future[T] {
	f := newFuture[T]()
	task := func(slot S) {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.complete(zero, fmt.Errorf("task panic: %v", r))
			}
		}()
		if err := ctx.Err(); err != nil {
			var zero T
			f.complete(zero, err)
			return
		}
		v, err := fn(ctx, slot)
		f.complete(v, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		var zero T
		f.complete(zero, ErrClosed)
		return f
	}
	select {
	case p.tasks <- task:
	case <-ctx.Done():
		var zero T
		f.complete(zero, ctx.Err())
	}
	return f
}
