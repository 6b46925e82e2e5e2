package testutil

import (
	"errors"
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// BrightThreshold is the 8-bit luma above which a pixel belongs to a blob.
const BrightThreshold = 200

// BlobDetector detects every 4-connected region of bright pixels as a
// "person" with confidence 0.9. It stands in for the model on synthetic
// frames.
func BlobDetector() detector.Detector {
	return detector.Func(DetectBlobs)
}

// DetectBlobs returns one detection per bright blob in crop-local pixels.
func DetectBlobs(img image.Image) ([]detector.Detection, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bright := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			luma := (299*r + 587*g + 114*bl) / 1000 >> 8
			bright[y*w+x] = luma > BrightThreshold
		}
	}

	var dets []detector.Detection
	seen := make([]bool, w*h)
	stack := make([]int, 0, 64)
	for start := range bright {
		if !bright[start] || seen[start] {
			continue
		}
		minX, minY, maxX, maxY := w, h, -1, -1
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if bright[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		dets = append(dets, detector.Detection{
			Box:        utils.NewBox(float64(minX), float64(minY), float64(maxX+1), float64(maxY+1)),
			Confidence: 0.9,
			ClassID:    0,
			ClassName:  "person",
		})
	}
	return dets, nil
}

// FailingFactory returns a detector factory whose detectors fail on every
// call after the first ok calls. Calls are counted across detectors.
func FailingFactory(ok int64) func() (detector.Detector, error) {
	var calls atomic.Int64
	return func() (detector.Detector, error) {
		return detector.Func(func(img image.Image) ([]detector.Detection, error) {
			if calls.Add(1) > ok {
				return nil, errors.New("inference failed")
			}
			return DetectBlobs(img)
		}), nil
	}
}
