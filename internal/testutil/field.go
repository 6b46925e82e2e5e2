package testutil

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// Synthetic field geometry. The frame is split into three vertical bands:
// left end zone, field and right end zone.
const (
	FieldWidth   = 160
	FieldHeight  = 90
	PlayerWidth  = 6
	PlayerHeight = 10
)

var (
	// Turf is the frame background.
	Turf = color.NRGBA{R: 30, G: 90, B: 40, A: 255}
	// Jersey is the player color; the only bright color in a frame.
	Jersey = color.NRGBA{R: 250, G: 250, B: 250, A: 255}
)

// Lineup positions players by the top-left pixel of their box.
type Lineup []image.Point

// ReadyLineup puts three players on each goal line.
func ReadyLineup() Lineup {
	return Lineup{
		{10, 40}, {22, 40}, {34, 40},
		{118, 40}, {130, 40}, {142, 40},
	}
}

// PulledLineup has the left team sprinting into the field while the right
// team holds.
func PulledLineup() Lineup {
	return Lineup{
		{60, 40}, {75, 40}, {90, 40},
		{118, 40}, {130, 40}, {142, 40},
	}
}

// FieldFrame renders players as bright rectangles on turf.
func FieldFrame(players Lineup) *image.NRGBA {
	frame := imaging.New(FieldWidth, FieldHeight, Turf)
	player := imaging.New(PlayerWidth, PlayerHeight, Jersey)
	for _, p := range players {
		frame = imaging.Paste(frame, player, p)
	}
	return frame
}

// WriteFrames renders one frame per lineup into dir as numbered PNGs and
// returns dir.
func WriteFrames(t *testing.T, dir string, lineups []Lineup) string {
	t.Helper()

	require.NoError(t, EnsureDir(dir))
	for i, l := range lineups {
		path := filepath.Join(dir, fmt.Sprintf("frame_%05d.png", i))
		require.NoError(t, imaging.Save(FieldFrame(l), path), "Failed to save %s", path)
	}
	return dir
}

// PointScript is ready lineups for the first readyUnits units followed by
// pulled lineups up to total.
func PointScript(readyUnits, total int) []Lineup {
	out := make([]Lineup, total)
	for i := range out {
		if i < readyUnits {
			out[i] = ReadyLineup()
		} else {
			out[i] = PulledLineup()
		}
	}
	return out
}

func band(x1, x2 float64) []utils.Point {
	return []utils.Point{{X: x1, Y: 0}, {X: x2, Y: 0}, {X: x2, Y: 1}, {X: x1, Y: 1}}
}

// FieldRegions returns resolved left, field and right crops matching the
// synthetic frame bands.
func FieldRegions() []artifacts.CropRegion {
	mk := func(name string, x1, x2 float64) artifacts.CropRegion {
		return artifacts.CropRegion{
			Name:             name,
			BBox:             utils.NormBBox{X: x1, Y: 0, Width: x2 - x1, Height: 1},
			OriginalPolygon:  band(x1, x2),
			EffectivePolygon: band(x1, x2),
		}
	}
	return []artifacts.CropRegion{
		mk("left", 0, 0.3),
		mk("field", 0.3, 0.7),
		mk("right", 0.7, 1),
	}
}

// OverviewRegion returns a single full-frame overview crop carrying the
// three bands as named sub-regions.
func OverviewRegion() artifacts.CropRegion {
	return artifacts.CropRegion{
		Name:             artifacts.OverviewName,
		BBox:             utils.NormBBox{X: 0, Y: 0, Width: 1, Height: 1},
		OriginalPolygon:  band(0, 1),
		EffectivePolygon: band(0, 1),
		Regions: []artifacts.SubRegion{
			{Name: "left", Polygon: band(0, 0.3)},
			{Name: "field", Polygon: band(0.3, 0.7)},
			{Name: "right", Polygon: band(0.7, 1)},
		},
	}
}
