package detector

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/endzone/internal/onnx"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// DecodeOptions controls how raw YOLO output is turned into detections.
type DecodeOptions struct {
	MinConfidence float64
	// ClassID restricts decoding to one class; negative keeps all.
	ClassID      int
	ClassNames   []string
	NMSThreshold float64
}

// DecodeYOLO parses one image's slice of a YOLOv8/v9 style output with
// 4+numClasses attributes per anchor. channelsFirst selects the
// [attrs, anchors] layout over [anchors, attrs]. Boxes are mapped back
// through lb and clipped to a w x h image.
func DecodeYOLO(out []float32, attrs, anchors int, channelsFirst bool,
	lb onnx.Letterbox, w, h int, opts DecodeOptions,
) ([]Detection, error) {
	if attrs < 5 {
		return nil, fmt.Errorf("expected at least 5 attributes per anchor, got %d", attrs)
	}
	if len(out) < attrs*anchors {
		return nil, fmt.Errorf("output has %d values, want %d", len(out), attrs*anchors)
	}
	at := func(a, k int) float64 {
		if channelsFirst {
			return float64(out[k*anchors+a])
		}
		return float64(out[a*attrs+k])
	}

	numClasses := attrs - 4
	var dets []Detection
	for a := range anchors {
		cls, score := 0, math.Inf(-1)
		for c := range numClasses {
			if v := at(a, 4+c); v > score {
				cls, score = c, v
			}
		}
		if opts.ClassID >= 0 {
			cls, score = opts.ClassID, at(a, 4+opts.ClassID)
		}
		if score < opts.MinConfidence {
			continue
		}

		cx, cy, bw, bh := at(a, 0), at(a, 1), at(a, 2), at(a, 3)
		x1, y1 := lb.Unmap(cx-bw/2, cy-bh/2)
		x2, y2 := lb.Unmap(cx+bw/2, cy+bh/2)
		box := utils.NewBox(
			clamp(x1, 0, float64(w)), clamp(y1, 0, float64(h)),
			clamp(x2, 0, float64(w)), clamp(y2, 0, float64(h)),
		)
		if box.Area() == 0 {
			continue
		}
		dets = append(dets, Detection{
			Box:        box,
			Confidence: score,
			ClassID:    cls,
			ClassName:  className(opts.ClassNames, cls),
		})
	}

	iou := opts.NMSThreshold
	if iou <= 0 {
		iou = DefaultNMSThreshold
	}
	return NonMaxSuppression(dets, iou), nil
}

func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
