package onnx

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/endzone/internal/mempool"
	"github.com/disintegration/imaging"
)

// letterboxFill is the gray YOLO-family models are trained with.
var letterboxFill = color.NRGBA{114, 114, 114, 255}

// Letterbox records how an image was fitted into a square model input.
type Letterbox struct {
	Scale float64
	PadX  float64
	PadY  float64
}

// Unmap converts model-space coordinates back to source image pixels.
func (l Letterbox) Unmap(x, y float64) (float64, float64) {
	if l.Scale == 0 {
		return x, y
	}
	return (x - l.PadX) / l.Scale, (y - l.PadY) / l.Scale
}

// ImageToNCHW letterboxes img into a size x size canvas and writes it as
// normalized RGB planes into dst, which must hold 3*size*size values.
func ImageToNCHW(img image.Image, size int, dst []float32) (Letterbox, error) {
	if img == nil {
		return Letterbox{}, errors.New("nil image")
	}
	plane := size * size
	if len(dst) != 3*plane {
		return Letterbox{}, fmt.Errorf("unexpected buffer length: got %d, want %d", len(dst), 3*plane)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Letterbox{}, fmt.Errorf("empty image %v", b)
	}

	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	nw := max(int(math.Round(float64(b.Dx())*scale)), 1)
	nh := max(int(math.Round(float64(b.Dy())*scale)), 1)
	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	lb := Letterbox{
		Scale: scale,
		PadX:  float64(size-nw) / 2,
		PadY:  float64(size-nh) / 2,
	}
	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(int(lb.PadX), int(lb.PadY)))
	lb.PadX = float64(int(lb.PadX))
	lb.PadY = float64(int(lb.PadY))

	for y := range size {
		row := canvas.Pix[y*canvas.Stride:]
		for x := range size {
			px := row[x*4:]
			idx := y*size + x
			dst[idx] = float32(px[0]) / 255
			dst[plane+idx] = float32(px[1]) / 255
			dst[2*plane+idx] = float32(px[2]) / 255
		}
	}
	return lb, nil
}

// BatchTensor is a pooled NCHW buffer for a batch of square images.
type BatchTensor struct {
	Data       []float32
	Shape      []int64
	Letterboxes []Letterbox
}

// NewBatchTensor letterboxes imgs into one [N,3,size,size] buffer taken from
// the shared pool. Callers must Release it.
func NewBatchTensor(imgs []image.Image, size int) (*BatchTensor, error) {
	if len(imgs) == 0 {
		return nil, errors.New("empty batch")
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid input size %d", size)
	}
	per := 3 * size * size
	buf := mempool.GetFloat32(per * len(imgs))
	bt := &BatchTensor{
		Data:       buf,
		Shape:      []int64{int64(len(imgs)), 3, int64(size), int64(size)},
		Letterboxes: make([]Letterbox, len(imgs)),
	}
	for i, img := range imgs {
		lb, err := ImageToNCHW(img, size, buf[i*per:(i+1)*per])
		if err != nil {
			bt.Release()
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		bt.Letterboxes[i] = lb
	}
	return bt, nil
}

// Release returns the buffer to the pool.
func (b *BatchTensor) Release() {
	if b == nil || b.Data == nil {
		return
	}
	mempool.PutFloat32(b.Data)
	b.Data = nil
}
