// Package elastic provides an unbounded FIFO whose ends are ordinary Go
// channels. Sends never block; the queue grows instead.
package elastic

import "sync/atomic"

// Queue is an unbounded FIFO. Data enter through In() and leave through
// Out() in arrival order. Beware! Prefer small or pointer-sized T; large
// values are copied on every hop.
type Queue[T any] struct {
	in      chan T
	out     chan T
	backlog []T
	length  atomic.Int64
}

// NewQueue creates a Queue and starts its shuttle goroutine. The goroutine
// exits when In() is closed and the backlog has drained.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.shuttle()
	return q
}

func (q *Queue[T]) shuttle() {
	for {
		if len(q.backlog) == 0 {
			// Nothing buffered: wait for input only.
			val, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			q.backlog = append(q.backlog, val)
			q.length.Store(int64(len(q.backlog)))
			continue
		}
		select {
		case q.out <- q.backlog[0]:
			q.backlog = q.backlog[1:]
		case val, ok := <-q.in:
			if !ok {
				// Input closed: hand over whatever remains, oldest first,
				// then close the output so receivers see a clean end.
				for _, item := range q.backlog {
					q.out <- item
				}
				q.backlog = nil
				q.length.Store(0)
				close(q.out)
				return
			}
			q.backlog = append(q.backlog, val)
		}
		q.length.Store(int64(len(q.backlog)))
	}
}

// In returns the send end. Close it to end the queue.
func (q *Queue[T]) In() chan<- T {
	return q.in
}

// Out returns the receive end. It is closed after In() is closed and the
// backlog has been delivered.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Len reports how many items are buffered inside the queue. Items parked in
// the unbuffered end channels are not counted.
func (q *Queue[T]) Len() int {
	return int(q.length.Load())
}
