package detector

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestGenerateOffsets_Coverage verifies offsets start at zero, end flush with
// the axis and leave no uncovered pixel.
func TestGenerateOffsets_Coverage(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("offsets cover the axis exactly", prop.ForAll(
		func(length, tile int, overlap float64) bool {
			cfg := SliceConfig{TileSize: tile, Overlap: overlap}
			offs := GenerateOffsets(length, tile, cfg.Stride())
			if offs[0] != 0 {
				return false
			}
			if length > tile && offs[len(offs)-1]+tile != length {
				return false
			}
			covered := 0
			for i, o := range offs {
				if i > 0 && o <= offs[i-1] {
					return false
				}
				if o > covered {
					return false
				}
				covered = max(covered, o+tile)
			}
			return covered >= length
		},
		gen.IntRange(1, 5000),
		gen.IntRange(32, 1024),
		gen.Float64Range(0, 0.5),
	))

	properties.TestingRun(t)
}
