// Package detector wraps person detection: the model-backed detectors,
// tiled (sliced) inference over large crops and the NMS merge.
package detector

import (
	"image"

	"github.com/MeKo-Tech/endzone/internal/utils"
)

// Detection is one detected object in crop-local pixel coordinates.
type Detection struct {
	Box        utils.Box `json:"bbox"`
	Confidence float64   `json:"confidence"`
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	// Counted is set by occupancy counting when the detection stands inside
	// the region's effective polygon.
	Counted bool `json:"is_counted"`
}

// Detector runs object detection on images.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
	DetectBatch(imgs []image.Image) ([][]Detection, error)
	Close() error
}

// Func adapts a plain function to the Detector interface.
type Func func(img image.Image) ([]Detection, error)

// Detect calls f(img).
func (f Func) Detect(img image.Image) ([]Detection, error) { return f(img) }

// DetectBatch calls f once per image.
func (f Func) DetectBatch(imgs []image.Image) ([][]Detection, error) {
	out := make([][]Detection, len(imgs))
	for i, img := range imgs {
		dets, err := f(img)
		if err != nil {
			return nil, err
		}
		out[i] = dets
	}
	return out, nil
}

// Close is a no-op.
func (f Func) Close() error { return nil }

// Filter keeps detections at or above minConf and, when className is not
// empty, of that class only. The input slice is not modified.
func Filter(dets []Detection, minConf float64, className string) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < minConf {
			continue
		}
		if className != "" && d.ClassName != className {
			continue
		}
		out = append(out, d)
	}
	return out
}
