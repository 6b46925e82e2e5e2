package utils

import (
	"image"
	"math"
)

// Point represents a 2D coordinate in float space.
type Point struct {
	X float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y float64 `json:"y" yaml:"y" mapstructure:"y"`
}

// Box represents an axis-aligned bounding box in float coordinates.
type Box struct {
	MinX float64 `json:"x1"`
	MinY float64 `json:"y1"`
	MaxX float64 `json:"x2"`
	MaxY float64 `json:"y2"`
}

// NewBox constructs a Box from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// BottomCenter is the point where a standing person touches the ground.
func (b Box) BottomCenter() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: b.MaxY}
}

// Translate returns the box shifted by dx, dy.
func (b Box) Translate(dx, dy float64) Box {
	return Box{MinX: b.MinX + dx, MinY: b.MinY + dy, MaxX: b.MaxX + dx, MaxY: b.MaxY + dy}
}

// ToRect converts a Box to an image.Rectangle, clamped to image bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Floor(b.MinX)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(b.MinY)), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(b.MaxX)), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(b.MaxY)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

// IoU computes intersection-over-union of two boxes.
func IoU(a, b Box) float64 {
	inter := Box{
		MinX: math.Max(a.MinX, b.MinX),
		MinY: math.Max(a.MinY, b.MinY),
		MaxX: math.Min(a.MaxX, b.MaxX),
		MaxY: math.Min(a.MaxY, b.MaxY),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NormBBox is a rectangle in normalized [0,1] frame coordinates.
type NormBBox struct {
	X      float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y      float64 `json:"y" yaml:"y" mapstructure:"y"`
	Width  float64 `json:"width" yaml:"width" mapstructure:"width"`
	Height float64 `json:"height" yaml:"height" mapstructure:"height"`
}

// PixelRect converts the normalized box to pixels of a w x h frame,
// rounding each edge and clamping to the frame.
func (n NormBBox) PixelRect(w, h int) image.Rectangle {
	x1 := clampInt(int(math.Round(n.X*float64(w))), 0, w)
	y1 := clampInt(int(math.Round(n.Y*float64(h))), 0, h)
	x2 := clampInt(int(math.Round((n.X+n.Width)*float64(w))), 0, w)
	y2 := clampInt(int(math.Round((n.Y+n.Height)*float64(h))), 0, h)
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}
}

// BBoxWithPadding returns the normalized bounding box of pts grown by pad
// on every side and clipped to [0,1].
func BBoxWithPadding(pts []Point, pad float64) NormBBox {
	if len(pts) == 0 {
		return NormBBox{}
	}
	b := BoundingBox(pts)
	x1 := clampFloat(b.MinX-pad, 0, 1)
	y1 := clampFloat(b.MinY-pad, 0, 1)
	x2 := clampFloat(b.MaxX+pad, 0, 1)
	y2 := clampFloat(b.MaxY+pad, 0, 1)
	return NormBBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// RemapPolygon maps global normalized points into the pixel space of a
// crop taken at bbox with the given pixel size.
func RemapPolygon(pts []Point, bbox NormBBox, cropW, cropH int) []Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		var lx, ly float64
		if bbox.Width > 0 {
			lx = (p.X - bbox.X) / bbox.Width * float64(cropW)
		}
		if bbox.Height > 0 {
			ly = (p.Y - bbox.Y) / bbox.Height * float64(cropH)
		}
		out[i] = Point{X: lx, Y: ly}
	}
	return out
}

// OffsetPoints returns an offset copy of points.
func OffsetPoints(pts []Point, dx, dy float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

// BoundingBox returns the axis-aligned bounding box for a set of points.
func BoundingBox(pts []Point) Box {
	if len(pts) == 0 {
		return Box{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Box{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// PointInPolygon reports whether p lies inside poly using the even-odd
// ray casting rule. Polygons with fewer than three vertices contain nothing.
func PointInPolygon(p Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := range n {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// SegmentsIntersect reports whether segment p1-p2 intersects q1-q2,
// including collinear overlap and touching endpoints.
func SegmentsIntersect(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// RectOverlapsPolygon reports whether the axis-aligned rectangle and the
// polygon share any area. Checks run cheapest first: bounding box reject,
// polygon vertex in rect, rect corner in polygon, edge crossing.
func RectOverlapsPolygon(rect Box, poly []Point) bool {
	if len(poly) < 3 {
		return false
	}
	pb := BoundingBox(poly)
	if pb.MaxX < rect.MinX || pb.MinX > rect.MaxX || pb.MaxY < rect.MinY || pb.MinY > rect.MaxY {
		return false
	}
	for _, p := range poly {
		if p.X >= rect.MinX && p.X <= rect.MaxX && p.Y >= rect.MinY && p.Y <= rect.MaxY {
			return true
		}
	}
	corners := []Point{
		{X: rect.MinX, Y: rect.MinY},
		{X: rect.MaxX, Y: rect.MinY},
		{X: rect.MaxX, Y: rect.MaxY},
		{X: rect.MinX, Y: rect.MaxY},
	}
	for _, c := range corners {
		if PointInPolygon(c, poly) {
			return true
		}
	}
	for i := range poly {
		a, b := poly[i], poly[(i+1)%len(poly)]
		for k := range corners {
			if SegmentsIntersect(a, b, corners[k], corners[(k+1)%len(corners)]) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(a, b, p Point) bool {
	return p.X >= math.Min(a.X, b.X) && p.X <= math.Max(a.X, b.X) &&
		p.Y >= math.Min(a.Y, b.Y) && p.Y <= math.Max(a.Y, b.Y)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
