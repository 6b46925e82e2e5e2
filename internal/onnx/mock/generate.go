// Package mock builds synthetic detector output tensors for tests that run
// without an ONNX Runtime library.
package mock

// Anchor is one synthetic prediction in model input coordinates.
type Anchor struct {
	CX, CY, W, H float32
	Class        int
	Score        float32
}

// Output is a synthetic YOLO output with its tensor shape.
type Output struct {
	Data  []float32
	Shape []int64
}

// NewYOLOOutput builds a YOLOv8 style output for len(images) images with
// 4+classes attributes per anchor. The shape is [batch, attrs, anchors], or
// [batch, anchors, attrs] when channelsFirst is false. Each image's anchors
// come first; the slots left over hold zero-size boxes scoring background
// on every class. anchors is raised to fit the longest image.
func NewYOLOOutput(images [][]Anchor, classes, anchors int, channelsFirst bool, background float32) Output {
	if classes <= 0 || len(images) == 0 {
		return Output{Data: nil, Shape: []int64{}}
	}
	for _, img := range images {
		anchors = max(anchors, len(img))
	}
	attrs := 4 + classes
	per := attrs * anchors
	data := make([]float32, len(images)*per)

	bg := clamp01(background)
	for i, img := range images {
		base := i * per
		set := func(a, k int, v float32) {
			if channelsFirst {
				data[base+k*anchors+a] = v
				return
			}
			data[base+a*attrs+k] = v
		}
		for a := range anchors {
			for c := range classes {
				set(a, 4+c, bg)
			}
			if a >= len(img) {
				continue
			}
			p := img[a]
			set(a, 0, p.CX)
			set(a, 1, p.CY)
			set(a, 2, p.W)
			set(a, 3, p.H)
			if p.Class >= 0 && p.Class < classes {
				set(a, 4+p.Class, clamp01(p.Score))
			}
		}
	}

	shape := []int64{int64(len(images)), int64(attrs), int64(anchors)}
	if !channelsFirst {
		shape[1], shape[2] = shape[2], shape[1]
	}
	return Output{Data: data, Shape: shape}
}

// Image returns the slice of o holding image i.
func (o Output) Image(i int) []float32 {
	if len(o.Shape) != 3 {
		return nil
	}
	per := int(o.Shape[1] * o.Shape[2])
	if i < 0 || (i+1)*per > len(o.Data) {
		return nil
	}
	return o.Data[i*per : (i+1)*per]
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
