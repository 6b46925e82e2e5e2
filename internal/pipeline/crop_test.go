package pipeline

import (
	"context"
	"image"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/MeKo-Tech/endzone/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCropRegion_RemapsPolygons(t *testing.T) {
	// 400x200 crop of an 800x400 frame at pixel bbox {200,100,400,200}.
	frame := imaging.New(800, 400, testutil.Turf)
	r := artifacts.CropRegion{
		Name:             "left",
		BBox:             utils.NormBBox{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
		OriginalPolygon:  []utils.Point{{X: 0.5, Y: 0.5}, {X: 0.6, Y: 0.5}, {X: 0.6, Y: 0.6}},
		EffectivePolygon: []utils.Point{{X: 0.25, Y: 0.25}, {X: 0.75, Y: 0.25}, {X: 0.75, Y: 0.75}},
	}

	c, err := CropRegion(frame, r, false)
	require.NoError(t, err)
	assert.Equal(t, "left", c.Suffix)
	assert.Equal(t, image.Rect(0, 0, 400, 200), c.Image.Bounds())
	assert.InDelta(t, 200, c.OriginalPolygon[0].X, 1e-9)
	assert.InDelta(t, 100, c.OriginalPolygon[0].Y, 1e-9)
	assert.InDelta(t, 400, c.EffectivePolygon[1].X, 1e-9)
	assert.InDelta(t, 200, c.EffectivePolygon[2].Y, 1e-9)
}

func TestCropRegion_SubRegions(t *testing.T) {
	frame := testutil.FieldFrame(testutil.ReadyLineup())
	c, err := CropRegion(frame, testutil.OverviewRegion(), true)
	require.NoError(t, err)

	require.Len(t, c.Regions, 3)
	assert.Equal(t, "left", c.Regions[0].Name)
	assert.InDelta(t, 0.3*testutil.FieldWidth, c.Regions[0].Polygon[1].X, 1e-9)
	assert.InDelta(t, testutil.FieldHeight, c.Regions[0].Polygon[2].Y, 1e-9)
}

func TestCropRegion_Errors(t *testing.T) {
	_, err := CropRegion(nil, testutil.FieldRegions()[0], false)
	assert.Error(t, err)

	empty := artifacts.CropRegion{Name: "thin", BBox: utils.NormBBox{X: 0.5, Y: 0.5, Width: 0.001, Height: 0.5}}
	_, err = CropRegion(testutil.FieldFrame(nil), empty, false)
	assert.Error(t, err)
}

func TestCropWorker_SkipsFailedRegions(t *testing.T) {
	regions := append(testutil.FieldRegions(), artifacts.CropRegion{
		Name: "broken",
		BBox: utils.NormBBox{X: 0.999, Y: 0, Width: 0.0001, Height: 1},
	})
	w := &CropWorker{Regions: regions}

	pf := w.Process(RawFrame{ID: 7, Image: testutil.FieldFrame(nil)}, slog.Default())
	assert.Equal(t, 7, pf.ID)
	require.Len(t, pf.Crops, 3)
	assert.Equal(t, []string{"left", "field", "right"},
		[]string{pf.Crops[0].Suffix, pf.Crops[1].Suffix, pf.Crops[2].Suffix})
}

func TestCropWorker_Run(t *testing.T) {
	in := make(chan RawFrame, 2)
	out := make(chan PreprocessedFrame, 2)
	w := &CropWorker{
		Regions: testutil.FieldRegions(),
		In:      in,
		Out:     out,
		State:   NewProcessingState("r", 2),
	}
	in <- RawFrame{ID: 0, Image: testutil.FieldFrame(nil)}
	in <- RawFrame{ID: 1, Image: testutil.FieldFrame(nil)}
	close(in)

	require.NoError(t, w.Run(context.Background(), &Token{}))
	assert.Len(t, out, 2)
	assert.EqualValues(t, 2, w.State.Snapshot().Stages[StageCrop].Current)
}
