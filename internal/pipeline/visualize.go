package pipeline

import (
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/endzone/internal/utils"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	colorLeft      = color.RGBA{100, 100, 255, 255}
	colorRight     = color.RGBA{100, 255, 100, 255}
	colorField     = color.RGBA{200, 200, 200, 255}
	colorOther     = color.RGBA{255, 255, 255, 255}
	colorOriginal  = color.RGBA{100, 200, 255, 255}
	colorEffective = color.RGBA{255, 165, 0, 255}
	colorCounted   = color.RGBA{0, 255, 0, 255}
	colorUncounted = color.RGBA{255, 0, 0, 255}
)

const annotationThickness = 2

// RegionColor returns the outline color for a named region.
func RegionColor(name string) color.Color {
	switch name {
	case "left":
		return colorLeft
	case "right":
		return colorRight
	case "field":
		return colorField
	default:
		return colorOther
	}
}

// RenderAnnotations draws the result's polygons and detections over a copy
// of its crop. Named sub-regions are drawn in their region color; without
// them the original polygon is drawn light blue and the effective one
// orange. Counted detections are green, the rest red.
func RenderAnnotations(res CropResult) *image.RGBA {
	if res.Image == nil {
		return nil
	}
	dst := utils.ToRGBA(res.Image)

	if len(res.Regions) > 0 {
		for _, r := range res.Regions {
			col := RegionColor(r.Name)
			utils.DrawPolygon(dst, r.Polygon, col, annotationThickness)
			drawRegionLabel(dst, r.Name, r.Polygon, col)
		}
	} else {
		utils.DrawPolygon(dst, res.OriginalPolygon, colorOriginal, annotationThickness)
		utils.DrawPolygon(dst, res.EffectivePolygon, colorEffective, annotationThickness)
		drawRegionLabel(dst, res.Suffix, res.OriginalPolygon, RegionColor(res.Suffix))
	}

	for _, d := range res.Detections {
		col := colorUncounted
		if d.Counted {
			col = colorCounted
		}
		utils.DrawRect(dst, d.Box.ToRect(dst.Bounds()), col, annotationThickness)
	}
	return dst
}

func drawRegionLabel(dst *image.RGBA, name string, poly []utils.Point, col color.Color) {
	if name == "" {
		return
	}
	x, y := 4, 14
	if len(poly) > 0 {
		b := utils.BoundingBox(poly)
		x = int(math.Max(0, b.MinX)) + 4
		y = int(math.Max(0, b.MinY)) + 14
	}
	utils.DrawLabel(dst, x, y, cases.Title(language.English).String(name), col)
}
