package pipeline

import "sync"

// DefaultChunkSize is the number of units per work range.
const DefaultChunkSize = 64

// WorkRange is the half-open unit interval [Start, End).
type WorkRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of units in the range.
func (r WorkRange) Len() int { return max(r.End-r.Start, 0) }

// RangePool is a FIFO of disjoint ranges covering [0, total). Each popped
// range is owned by one reader until it is finished or handed back.
type RangePool struct {
	mu     sync.Mutex
	ranges []WorkRange
}

// NewRangePool splits [0, total) into chunks of at most chunk units.
func NewRangePool(total, chunk int) *RangePool {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	p := &RangePool{}
	for start := 0; start < total; start += chunk {
		p.ranges = append(p.ranges, WorkRange{Start: start, End: min(start+chunk, total)})
	}
	return p
}

// Pop removes and returns the oldest range.
func (p *RangePool) Pop() (WorkRange, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ranges) == 0 {
		return WorkRange{}, false
	}
	r := p.ranges[0]
	p.ranges = p.ranges[1:]
	return r, true
}

// PushFront hands an unfinished range back so the next reader takes it
// first. Empty ranges are ignored.
func (p *RangePool) PushFront(r WorkRange) {
	if r.Len() == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ranges = append([]WorkRange{r}, p.ranges...)
}

// Truncate drops every unit at or beyond limit from the queued ranges.
func (p *RangePool) Truncate(limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.ranges[:0]
	for _, r := range p.ranges {
		if r.Start >= limit {
			continue
		}
		r.End = min(r.End, limit)
		kept = append(kept, r)
	}
	p.ranges = kept
}

// Remaining returns the number of units still queued.
func (p *RangePool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.ranges {
		n += r.Len()
	}
	return n
}
