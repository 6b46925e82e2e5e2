package testutil

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldFrame(t *testing.T) {
	frame := FieldFrame(ReadyLineup())
	assert.Equal(t, image.Rect(0, 0, FieldWidth, FieldHeight), frame.Bounds())
	assert.Equal(t, Jersey, frame.NRGBAAt(10, 40))
	assert.Equal(t, Turf, frame.NRGBAAt(0, 0))
}

func TestDetectBlobs(t *testing.T) {
	dets, err := DetectBlobs(FieldFrame(ReadyLineup()))
	require.NoError(t, err)
	require.Len(t, dets, 6)

	first := dets[0].Box
	assert.InDelta(t, 10, first.MinX, 1e-9)
	assert.InDelta(t, 40, first.MinY, 1e-9)
	assert.InDelta(t, 16, first.MaxX, 1e-9)
	assert.InDelta(t, 50, first.MaxY, 1e-9)
	for _, d := range dets {
		assert.Equal(t, "person", d.ClassName)
	}

	_, err = DetectBlobs(nil)
	assert.Error(t, err)
}

func TestDetectBlobs_EmptyFrame(t *testing.T) {
	dets, err := DetectBlobs(FieldFrame(nil))
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestWriteFrames(t *testing.T) {
	dir := WriteFrames(t, filepath.Join(t.TempDir(), "frames"), PointScript(2, 3))

	for _, name := range []string{"frame_00000.png", "frame_00001.png", "frame_00002.png"} {
		assert.True(t, FileExists(filepath.Join(dir, name)), name)
	}
	img, err := imaging.Open(filepath.Join(dir, "frame_00002.png"))
	require.NoError(t, err)
	dets, err := DetectBlobs(img)
	require.NoError(t, err)
	assert.Len(t, dets, 6)
}

func TestFailingFactory(t *testing.T) {
	newDet := FailingFactory(1)
	det, err := newDet()
	require.NoError(t, err)

	_, err = det.Detect(FieldFrame(nil))
	require.NoError(t, err)
	_, err = det.Detect(FieldFrame(nil))
	assert.Error(t, err)
}

func TestFieldRegions(t *testing.T) {
	f := artifacts.RegionsFile{Crops: append(FieldRegions(), OverviewRegion())}
	crops, err := f.Resolve()
	require.NoError(t, err)
	assert.Len(t, crops, 4)
	assert.Len(t, crops[3].Regions, 3)
}
