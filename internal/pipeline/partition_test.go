package pipeline

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRangePool(t *testing.T) {
	p := NewRangePool(150, 64)
	assert.Equal(t, 150, p.Remaining())

	var got []WorkRange
	for {
		r, ok := p.Pop()
		if !ok {
			break
		}
		got = append(got, r)
	}
	assert.Equal(t, []WorkRange{{0, 64}, {64, 128}, {128, 150}}, got)
	assert.Equal(t, 0, p.Remaining())
}

func TestNewRangePool_DefaultChunk(t *testing.T) {
	p := NewRangePool(DefaultChunkSize+1, 0)
	r, ok := p.Pop()
	require.True(t, ok)
	assert.Equal(t, DefaultChunkSize, r.Len())
}

func TestRangePool_PushFront(t *testing.T) {
	p := NewRangePool(20, 10)
	r, _ := p.Pop()
	p.PushFront(WorkRange{Start: r.Start + 4, End: r.End})
	p.PushFront(WorkRange{Start: 3, End: 3})

	next, ok := p.Pop()
	require.True(t, ok)
	assert.Equal(t, WorkRange{4, 10}, next)
	assert.Equal(t, 10, p.Remaining())
}

func TestRangePool_Truncate(t *testing.T) {
	p := NewRangePool(100, 25)
	p.Truncate(60)
	assert.Equal(t, 60, p.Remaining())

	var last WorkRange
	for {
		r, ok := p.Pop()
		if !ok {
			break
		}
		last = r
	}
	assert.Equal(t, WorkRange{50, 60}, last)
}

// TestRangePool_Coverage verifies concurrent readers draw disjoint ranges
// whose union is exactly [0, total).
func TestRangePool_Coverage(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ranges cover every unit exactly once", prop.ForAll(
		func(total, chunk, readers int) bool {
			p := NewRangePool(total, chunk)
			seen := make([]int, total)
			var mu sync.Mutex
			var wg sync.WaitGroup
			for range readers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						r, ok := p.Pop()
						if !ok {
							return
						}
						mu.Lock()
						for id := r.Start; id < r.End; id++ {
							seen[id]++
						}
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			for _, n := range seen {
				if n != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 2000),
		gen.IntRange(1, 128),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
