package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// occupancy builds history for ids 0..n-1 with left/right set to 0.4 unless
// an id falls at or after the side's empty point.
func occupancy(n, leftEmptyFrom, rightEmptyFrom int) []Occupancy {
	h := make([]Occupancy, n)
	for i := range h {
		h[i] = Occupancy{ID: i, Left: 0.4, Right: 0.4}
		if leftEmptyFrom >= 0 && i >= leftEmptyFrom {
			h[i].Left = 0
		}
		if rightEmptyFrom >= 0 && i >= rightEmptyFrom {
			h[i].Right = 0
		}
	}
	return h
}

func TestAttribute(t *testing.T) {
	tests := []struct {
		name    string
		history []Occupancy
		want    Attribution
	}{
		{"left empties first", occupancy(30, 12, 15), Attribution{LeftEmptiedFirst: true}},
		{"right empties first", occupancy(30, 16, 11), Attribution{RightEmptiedFirst: true}},
		{"only left empties", occupancy(30, 12, -1), Attribution{LeftEmptiedFirst: true}},
		{"only right empties", occupancy(30, -1, 14), Attribution{RightEmptiedFirst: true}},
		{"nobody empties", occupancy(30, -1, -1), Attribution{MaybeFalsePositive: true}},
		{"true tie", occupancy(30, 12, 12), Attribution{LeftEmptiedFirst: true, RightEmptiedFirst: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Attribute(tt.history, 10, 10, 15))
		})
	}
}

func TestAttribute_SingleZeroIsNotEmpty(t *testing.T) {
	h := occupancy(30, -1, -1)
	h[12].Left = 0
	h[20].Right = 0
	h[21].Right = 0
	assert.Equal(t, Attribution{RightEmptiedFirst: true}, Attribute(h, 10, 10, 15))
}

func TestAttribute_TieBrokenByPriorAsymmetry(t *testing.T) {
	h := occupancy(30, 12, 12)
	h[8].Left = 0.1
	assert.Equal(t, Attribution{LeftEmptiedFirst: true}, Attribute(h, 10, 10, 15))

	h = occupancy(30, 12, 12)
	h[5].Left = 0.1
	h[9].Right = 0.2
	assert.Equal(t, Attribution{RightEmptiedFirst: true}, Attribute(h, 10, 10, 15))
}

func TestAttribute_WindowBounds(t *testing.T) {
	// Emptying after the lookahead window is ignored.
	h := occupancy(40, 30, -1)
	assert.Equal(t, Attribution{MaybeFalsePositive: true}, Attribute(h, 10, 10, 15))

	// Emptying before the lookback window is ignored.
	h = occupancy(40, -1, -1)
	h[0].Left, h[1].Left = 0, 0
	assert.Equal(t, Attribution{MaybeFalsePositive: true}, Attribute(h, 20, 10, 15))
}
