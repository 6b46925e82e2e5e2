package utils

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents an error during image processing operations.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error {
	return e.Err
}

// CropImageRect crops an image to the given rectangle. The rectangle is
// intersected with the image bounds; an empty intersection is an error.
func CropImageRect(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "crop", Err: fmt.Errorf("nil image")}
	}
	rect = rect.Intersect(img.Bounds())
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, &ImageProcessingError{
			Operation: "crop",
			Err:       fmt.Errorf("empty crop rectangle %v within %v", rect, img.Bounds()),
		}
	}
	return imaging.Crop(img, rect), nil
}

// PadToSize places img at the top-left of a black w x h canvas. Images
// already at least that large are returned unchanged.
func PadToSize(img image.Image, w, h int) (image.Image, error) {
	if w <= 0 || h <= 0 {
		return nil, &ImageProcessingError{Operation: "pad", Err: fmt.Errorf("invalid target size %dx%d", w, h)}
	}
	b := img.Bounds()
	if b.Dx() >= w && b.Dy() >= h {
		return img, nil
	}
	canvas := imaging.New(w, h, color.NRGBA{0, 0, 0, 255})
	return imaging.Paste(canvas, img, image.Pt(0, 0)), nil
}

// EqualizeLuminance histogram-equalizes the Y channel of img in YCbCr
// space and leaves chroma untouched.
func EqualizeLuminance(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return src
	}

	var hist [256]int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.NRGBAAt(x, y)
			lum, _, _ := color.RGBToYCbCr(c.R, c.G, c.B)
			hist[lum]++
		}
	}

	var cdf [256]int
	run := 0
	cdfMin := 0
	for i, n := range hist {
		run += n
		cdf[i] = run
		if cdfMin == 0 && run > 0 {
			cdfMin = run
		}
	}
	if total == cdfMin {
		return src
	}

	var lut [256]uint8
	scale := 255.0 / float64(total-cdfMin)
	for i := range lut {
		v := math.Round(float64(cdf[i]-cdfMin) * scale)
		lut[i] = uint8(clampFloat(v, 0, 255))
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := src.NRGBAAt(x, y)
			lum, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			r, g, bl := color.YCbCrToRGB(lut[lum], cb, cr)
			src.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: bl, A: c.A})
		}
	}
	return src
}

// ToRGBA copies img into a new RGBA canvas suitable for drawing.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
