// Package coalesce drains a set of pending asynchronous results in completion order.
package coalesce

import (
	"context"
	"sync"
)

// Set holds records whose results are still outstanding. Each record is handed back
// by Next exactly once, after its completion channel is closed. Whichever record
// completes first is returned first; there is no priority among pending records.
//
// A Set is drained by a single goroutine.
type Set[R any] struct {
	ready   chan R
	quit    chan struct{}
	once    sync.Once
	pending int
}

// New returns an empty Set.
func New[R any]() *Set[R] {
	return &Set[R]{
		ready: make(chan R),
		quit:  make(chan struct{}),
	}
}

// Add registers rec; it becomes available from Next once done is closed.
func (s *Set[R]) Add(rec R, done <-chan struct{}) {
	s.pending++
	go func() {
		select {
		case <-done:
		case <-s.quit:
			return
		}
		select {
		case s.ready <- rec:
		case <-s.quit:
		}
	}()
}

// Len returns the number of records not yet returned by Next.
func (s *Set[R]) Len() int {
	return s.pending
}

// Next blocks until a pending record completes and removes it from the set.
// It returns ok=false without blocking when the set is empty.
func (s *Set[R]) Next(ctx context.Context) (rec R, ok bool, err error) {
	if s.pending == 0 {
		return rec, false, nil
	}
	select {
	case rec = <-s.ready:
		s.pending--
		return rec, true, nil
	case <-ctx.Done():
		return rec, false, ctx.Err()
	}
}

// Close releases waiters for records that will never be consumed.
func (s *Set[R]) Close() {
	s.once.Do(func() {
		close(s.quit)
	})
}
