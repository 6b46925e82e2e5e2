package pipeline

import (
	"context"
	"sync"
)

// queue is an unbounded channel: sends never wait for the consumer. Close
// lets the consumer drain what was queued before Out is closed. After ctx
// is cancelled queued items are discarded.
type queue[T any] struct {
	in   chan T
	out  chan T
	once sync.Once
}

func newQueue[T any](ctx context.Context) *queue[T] {
	q := &queue[T]{in: make(chan T), out: make(chan T)}
	go q.pump(ctx)
	return q
}

// In is the producer side.
func (q *queue[T]) In() chan<- T { return q.in }

// Out is the consumer side.
func (q *queue[T]) Out() <-chan T { return q.out }

// Close stops accepting items. Safe to call more than once.
func (q *queue[T]) Close() { q.once.Do(func() { close(q.in) }) }

func (q *queue[T]) pump(ctx context.Context) {
	defer close(q.out)
	var buf []T
	in := q.in
	for in != nil || len(buf) > 0 {
		var (
			out  chan T
			head T
		)
		if len(buf) > 0 {
			out = q.out
			head = buf[0]
		}
		select {
		case item, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, item)
		case out <- head:
			var zero T
			buf[0] = zero
			buf = buf[1:]
		case <-ctx.Done():
			return
		}
	}
}
