package detector

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/MeKo-Tech/endzone/internal/utils"
)

// SliceConfig controls tiled inference over large crops.
type SliceConfig struct {
	// TileSize is the square tile edge in pixels; 0 disables slicing.
	TileSize int
	// Overlap is the fraction of a tile shared with its neighbor, in [0,0.5].
	Overlap float64
	// IoUThreshold merges duplicate detections across tiles.
	IoUThreshold float64
	// BatchSize is how many tiles go to the detector per call.
	BatchSize int
	// CollapseSlack is the fraction of TileSize an axis may exceed one tile
	// by and still be covered by a single centered tile.
	CollapseSlack float64
}

// DefaultSliceConfig returns slicing disabled with the usual overlap.
func DefaultSliceConfig() SliceConfig {
	return SliceConfig{
		TileSize:      0,
		Overlap:       0.2,
		IoUThreshold:  DefaultNMSThreshold,
		BatchSize:     8,
		CollapseSlack: 0.02,
	}
}

// Enabled reports whether tiles should be used.
func (c SliceConfig) Enabled() bool { return c.TileSize > 0 }

// Stride is the step between consecutive tile origins.
func (c SliceConfig) Stride() int {
	o := math.Max(0, math.Min(0.5, c.Overlap))
	return max(int(float64(c.TileSize)*(1-o)), 1)
}

// Tile is one window of a crop. W and H are the valid pixels before padding.
type Tile struct {
	X, Y int
	W, H int
}

// Rect returns the tile's valid area in crop coordinates.
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.W, t.Y+t.H)
}

// GenerateOffsets returns tile origins along one axis of the given length.
// Origins advance by stride until a tile reaches the end, then one final
// tile is aligned to the edge so no tile needs padding when length >= tile.
func GenerateOffsets(length, tile, stride int) []int {
	if tile <= 0 || length <= tile {
		return []int{0}
	}
	stride = max(stride, 1)

	var offsets []int
	for pos := 0; pos < length; pos += stride {
		offsets = append(offsets, pos)
		if pos+tile >= length {
			break
		}
	}
	last := offsets[len(offsets)-1]
	if last+tile > length {
		offsets[len(offsets)-1] = length - tile
	}
	sort.Ints(offsets)
	return dedupInts(offsets)
}

// axisOffsets applies the single centered tile rule on top of GenerateOffsets.
func (c SliceConfig) axisOffsets(length int) []int {
	over := length - c.TileSize
	if over > 0 && float64(over) <= float64(c.TileSize)*c.CollapseSlack {
		return []int{over / 2}
	}
	return GenerateOffsets(length, c.TileSize, c.Stride())
}

// GenerateTiles lays tiles over a w x h crop. When targets is not empty only
// tiles overlapping at least one target polygon are kept.
func GenerateTiles(w, h int, cfg SliceConfig, targets [][]utils.Point) []Tile {
	if !cfg.Enabled() || w <= 0 || h <= 0 {
		return nil
	}
	xs := cfg.axisOffsets(w)
	ys := cfg.axisOffsets(h)

	tiles := make([]Tile, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			t := Tile{X: x, Y: y, W: min(cfg.TileSize, w-x), H: min(cfg.TileSize, h-y)}
			if len(targets) > 0 && !hitsAny(t, targets) {
				continue
			}
			tiles = append(tiles, t)
		}
	}
	return tiles
}

// TileOverlapsPolygon reports whether the tile's valid area shares any area
// with poly, both in crop pixel coordinates.
func TileOverlapsPolygon(t Tile, poly []utils.Point) bool {
	rect := utils.Box{
		MinX: float64(t.X),
		MinY: float64(t.Y),
		MaxX: float64(t.X + t.W),
		MaxY: float64(t.Y + t.H),
	}
	return utils.RectOverlapsPolygon(rect, poly)
}

func hitsAny(t Tile, targets [][]utils.Point) bool {
	for _, poly := range targets {
		if TileOverlapsPolygon(t, poly) {
			return true
		}
	}
	return false
}

// DetectSliced runs det over the tiles of img, translates detections back to
// crop coordinates and merges duplicates with NMS. With slicing disabled it
// is a single Detect call.
func DetectSliced(det Detector, img image.Image, cfg SliceConfig, targets [][]utils.Point) ([]Detection, error) {
	if !cfg.Enabled() {
		return det.Detect(img)
	}
	b := img.Bounds()
	tiles := GenerateTiles(b.Dx(), b.Dy(), cfg, targets)
	if len(tiles) == 0 {
		return nil, nil
	}

	batch := max(cfg.BatchSize, 1)
	var merged []Detection
	for start := 0; start < len(tiles); start += batch {
		chunk := tiles[start:min(start+batch, len(tiles))]
		imgs := make([]image.Image, len(chunk))
		for i, t := range chunk {
			crop, err := utils.CropImageRect(img, t.Rect().Add(b.Min))
			if err != nil {
				return nil, fmt.Errorf("tile %d,%d: %w", t.X, t.Y, err)
			}
			padded, err := utils.PadToSize(crop, cfg.TileSize, cfg.TileSize)
			if err != nil {
				return nil, fmt.Errorf("tile %d,%d: %w", t.X, t.Y, err)
			}
			imgs[i] = padded
		}

		results, err := det.DetectBatch(imgs)
		if err != nil {
			return nil, fmt.Errorf("tile batch inference: %w", err)
		}
		if len(results) != len(chunk) {
			return nil, fmt.Errorf("detector returned %d results for %d tiles", len(results), len(chunk))
		}
		for i, dets := range results {
			for _, d := range dets {
				d.Box = d.Box.Translate(float64(chunk[i].X), float64(chunk[i].Y))
				merged = append(merged, d)
			}
		}
	}

	iou := cfg.IoUThreshold
	if iou <= 0 {
		iou = DefaultNMSThreshold
	}
	return NonMaxSuppression(merged, iou), nil
}

func dedupInts(s []int) []int {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
