package features

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCliffDetector_GapAndCompleteness verifies every unit gets one decision
// and confirmed cliffs are at least min_gap ids apart.
func TestCliffDetector_GapAndCompleteness(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("one decision per unit and min gap between cliffs", prop.ForAll(
		func(blocks []bool) bool {
			var scores []float64
			for _, high := range blocks {
				v := 0.0
				if high {
					v = 0.8
				}
				scores = append(scores, repeat(v, 7)...)
			}

			cfg := DefaultCliffConfig()
			d := NewCliffDetector(cfg)
			var out []CliffDecision
			for i, s := range scores {
				out = append(out, d.Push(i, s)...)
			}
			out = append(out, d.Flush()...)
			if len(out) != len(scores) {
				return false
			}

			last := -1
			for i, dec := range out {
				if dec.ID != i {
					return false
				}
				if dec.IsCliff {
					if last >= 0 && dec.ID-last < cfg.MinGap {
						return false
					}
					last = dec.ID
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.Bool()),
	))

	properties.TestingRun(t)
}
