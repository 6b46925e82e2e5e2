package features

import (
	"container/heap"
	"errors"
)

var (
	// ErrStaleID is returned for ids below the next expected id.
	ErrStaleID = errors.New("id already released")
	// ErrDuplicateID is returned for ids already waiting in the buffer.
	ErrDuplicateID = errors.New("duplicate id")
)

// DefaultMaxReorderDepth bounds how many out-of-order units are held.
const DefaultMaxReorderDepth = 4096

// Reorderer restores id order for a stream whose producers run concurrently.
// It holds at most maxDepth pending items; once that depth is exceeded the
// missing id is treated as a gap and skipped.
type Reorderer[T any] struct {
	next     int
	maxDepth int
	pending  idHeap
	items    map[int]T
	skipped  int
}

// NewReorderer creates a buffer expecting start as the first id.
func NewReorderer[T any](start, maxDepth int) *Reorderer[T] {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxReorderDepth
	}
	return &Reorderer[T]{
		next:     start,
		maxDepth: maxDepth,
		items:    make(map[int]T),
	}
}

// Push adds an item and returns every item that is now releasable in order.
func (r *Reorderer[T]) Push(id int, item T) ([]T, error) {
	if id < r.next {
		return nil, ErrStaleID
	}
	if _, ok := r.items[id]; ok {
		return nil, ErrDuplicateID
	}
	r.items[id] = item
	heap.Push(&r.pending, id)

	out := r.drain(nil)
	for len(r.items) > r.maxDepth {
		r.skipGap()
		out = r.drain(out)
	}
	return out, nil
}

// Flush releases everything still pending in id order, skipping gaps.
func (r *Reorderer[T]) Flush() []T {
	var out []T
	for r.pending.Len() > 0 {
		r.skipGap()
		out = r.drain(out)
	}
	return out
}

// Next returns the next id the buffer expects.
func (r *Reorderer[T]) Next() int { return r.next }

// Pending returns the number of held items.
func (r *Reorderer[T]) Pending() int { return len(r.items) }

// Skipped returns how many ids were given up as gaps.
func (r *Reorderer[T]) Skipped() int { return r.skipped }

func (r *Reorderer[T]) drain(out []T) []T {
	for r.pending.Len() > 0 && r.pending[0] == r.next {
		id := heap.Pop(&r.pending).(int)
		out = append(out, r.items[id])
		delete(r.items, id)
		r.next++
	}
	return out
}

func (r *Reorderer[T]) skipGap() {
	if r.pending.Len() == 0 {
		return
	}
	lowest := r.pending[0]
	if lowest > r.next {
		r.skipped += lowest - r.next
		r.next = lowest
	}
}

type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
