package utils

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func square(x1, y1, x2, y2 float64) []Point {
	return []Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

func TestRemapPolygon(t *testing.T) {
	bbox := NormBBox{X: 100, Y: 100, Width: 200, Height: 100}
	got := RemapPolygon([]Point{{X: 200, Y: 150}}, bbox, 400, 200)
	assert.InDelta(t, 200.0, got[0].X, 1e-9)
	assert.InDelta(t, 100.0, got[0].Y, 1e-9)

	norm := NormBBox{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.25}
	got = RemapPolygon([]Point{{X: 0.25, Y: 0.5}, {X: 0.75, Y: 0.75}}, norm, 960, 270)
	assert.InDelta(t, 0.0, got[0].X, 1e-9)
	assert.InDelta(t, 0.0, got[0].Y, 1e-9)
	assert.InDelta(t, 960.0, got[1].X, 1e-9)
	assert.InDelta(t, 270.0, got[1].Y, 1e-9)

	assert.Nil(t, RemapPolygon(nil, norm, 10, 10))
}

func TestNormBBoxPixelRect(t *testing.T) {
	n := NormBBox{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.5}
	assert.Equal(t, image.Rect(192, 216, 1152, 756), n.PixelRect(1920, 1080))

	// Clamped to frame.
	over := NormBBox{X: 0.8, Y: -0.1, Width: 0.5, Height: 0.5}
	assert.Equal(t, image.Rect(80, 0, 100, 40), over.PixelRect(100, 100))

	// Zero width survives conversion so callers can reject it.
	flat := NormBBox{X: 0.5, Y: 0.5, Width: 0, Height: 0.2}
	assert.Equal(t, 0, flat.PixelRect(100, 100).Dx())
}

func TestBBoxWithPadding(t *testing.T) {
	b := BBoxWithPadding(square(0.2, 0.2, 0.6, 0.4), 0.01)
	assert.InDelta(t, 0.19, b.X, 1e-9)
	assert.InDelta(t, 0.19, b.Y, 1e-9)
	assert.InDelta(t, 0.42, b.Width, 1e-9)
	assert.InDelta(t, 0.22, b.Height, 1e-9)

	edge := BBoxWithPadding(square(0, 0, 1, 1), 0.05)
	assert.Equal(t, NormBBox{X: 0, Y: 0, Width: 1, Height: 1}, edge)

	assert.Equal(t, NormBBox{}, BBoxWithPadding(nil, 0.1))
}

func TestPointInPolygon(t *testing.T) {
	poly := square(0, 0, 10, 10)
	assert.True(t, PointInPolygon(Point{X: 5, Y: 5}, poly))
	assert.False(t, PointInPolygon(Point{X: 15, Y: 5}, poly))
	assert.False(t, PointInPolygon(Point{X: -1, Y: -1}, poly))
	assert.False(t, PointInPolygon(Point{X: 1, Y: 1}, poly[:2]))

	// Concave L shape.
	l := []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 10}, {X: 0, Y: 10}}
	assert.True(t, PointInPolygon(Point{X: 2, Y: 8}, l))
	assert.False(t, PointInPolygon(Point{X: 8, Y: 8}, l))
}

func TestSegmentsIntersect(t *testing.T) {
	assert.True(t, SegmentsIntersect(Point{0, 0}, Point{10, 10}, Point{0, 10}, Point{10, 0}))
	assert.False(t, SegmentsIntersect(Point{0, 0}, Point{1, 1}, Point{2, 2}, Point{3, 0}))
	assert.True(t, SegmentsIntersect(Point{0, 0}, Point{5, 0}, Point{5, 0}, Point{5, 5}))
	assert.True(t, SegmentsIntersect(Point{0, 0}, Point{4, 0}, Point{2, 0}, Point{6, 0}))
	assert.False(t, SegmentsIntersect(Point{0, 0}, Point{1, 0}, Point{2, 0}, Point{3, 0}))
}

func TestRectOverlapsPolygon(t *testing.T) {
	tile := Box{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

	t.Run("bbox reject", func(t *testing.T) {
		assert.False(t, RectOverlapsPolygon(tile, square(20, 20, 30, 30)))
	})
	t.Run("polygon vertex inside tile", func(t *testing.T) {
		assert.True(t, RectOverlapsPolygon(tile, square(5, 5, 30, 30)))
	})
	t.Run("tile inside polygon", func(t *testing.T) {
		assert.True(t, RectOverlapsPolygon(tile, square(-5, -5, 20, 20)))
	})
	t.Run("edges cross only", func(t *testing.T) {
		cross := []Point{{X: -5, Y: 4}, {X: 15, Y: 4}, {X: 15, Y: 6}, {X: -5, Y: 6}}
		assert.True(t, RectOverlapsPolygon(tile, cross))
	})
	t.Run("bboxes overlap but shapes do not", func(t *testing.T) {
		tri := []Point{{X: 10, Y: 20}, {X: 30, Y: 0}, {X: 30, Y: 20}}
		wide := Box{MinX: 0, MinY: 0, MaxX: 12, MaxY: 2}
		assert.False(t, RectOverlapsPolygon(wide, tri))
	})
	t.Run("degenerate polygon", func(t *testing.T) {
		assert.False(t, RectOverlapsPolygon(tile, []Point{{X: 1, Y: 1}, {X: 2, Y: 2}}))
	})
}

func TestIoU(t *testing.T) {
	a := NewBox(0, 0, 10, 10)
	assert.InDelta(t, 1.0, IoU(a, a), 1e-9)
	assert.InDelta(t, 0.0, IoU(a, NewBox(20, 20, 30, 30)), 1e-9)
	assert.InDelta(t, 25.0/175.0, IoU(a, NewBox(5, 5, 15, 15)), 1e-9)
	assert.InDelta(t, 0.0, IoU(Box{}, Box{}), 1e-9)
}

func TestBoxHelpers(t *testing.T) {
	b := NewBox(10, 20, 0, 0)
	assert.Equal(t, Box{MinX: 0, MinY: 0, MaxX: 10, MaxY: 20}, b)
	assert.Equal(t, Point{X: 5, Y: 20}, b.BottomCenter())
	assert.Equal(t, Box{MinX: 3, MinY: 4, MaxX: 13, MaxY: 24}, b.Translate(3, 4))
	assert.Equal(t, image.Rect(0, 0, 10, 15), b.ToRect(image.Rect(0, 0, 100, 15)))
}
