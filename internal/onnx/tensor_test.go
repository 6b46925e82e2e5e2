package onnx

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageToNCHW_Letterbox(t *testing.T) {
	img := imaging.New(200, 100, color.NRGBA{255, 0, 0, 255})
	dst := make([]float32, 3*64*64)

	lb, err := ImageToNCHW(img, 64, dst)
	require.NoError(t, err)
	assert.InDelta(t, 0.32, lb.Scale, 1e-9)
	assert.Equal(t, 0.0, lb.PadX)
	assert.Equal(t, 16.0, lb.PadY)

	plane := 64 * 64
	center := 32*64 + 32
	assert.InDelta(t, 1.0, dst[center], 1e-6)
	assert.InDelta(t, 0.0, dst[plane+center], 1e-6)
	// Padding rows carry the fill gray.
	assert.InDelta(t, 114.0/255, dst[0], 1e-6)

	x, y := lb.Unmap(32, 32)
	assert.InDelta(t, 100.0, x, 1e-9)
	assert.InDelta(t, 50.0, y, 1e-9)
}

func TestImageToNCHW_Errors(t *testing.T) {
	_, err := ImageToNCHW(nil, 8, make([]float32, 3*64))
	assert.Error(t, err)

	img := imaging.New(4, 4, color.Black)
	_, err = ImageToNCHW(img, 8, make([]float32, 10))
	assert.Error(t, err)

	_, err = ImageToNCHW(image.NewRGBA(image.Rect(0, 0, 0, 0)), 8, make([]float32, 3*64))
	assert.Error(t, err)
}

func TestNewBatchTensor(t *testing.T) {
	imgs := []image.Image{
		imaging.New(32, 32, color.White),
		imaging.New(16, 32, color.Black),
	}
	bt, err := NewBatchTensor(imgs, 32)
	require.NoError(t, err)
	defer bt.Release()

	assert.Equal(t, []int64{2, 3, 32, 32}, bt.Shape)
	assert.Len(t, bt.Data, 2*3*32*32)
	assert.Len(t, bt.Letterboxes, 2)
	assert.InDelta(t, 8.0, bt.Letterboxes[1].PadX, 1e-9)

	_, err = NewBatchTensor(nil, 32)
	assert.Error(t, err)
	_, err = NewBatchTensor(imgs, 0)
	assert.Error(t, err)
}

func TestLibraryCandidates(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/tmp/custom/libonnxruntime.so")
	paths := LibraryCandidates("/explicit/lib.so", true)
	require.GreaterOrEqual(t, len(paths), 3)
	assert.Equal(t, "/explicit/lib.so", paths[0])
	assert.Equal(t, "/tmp/custom/libonnxruntime.so", paths[1])
	assert.Equal(t, "/opt/onnxruntime/gpu/lib/libonnxruntime.so", paths[2])
}
