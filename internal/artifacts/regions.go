package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/endzone/internal/utils"
	"gopkg.in/yaml.v3"
)

// CropPadding is the normalized margin added around a region's polygons
// when its bbox is derived rather than given.
const CropPadding = 0.01

// OverviewName names the single unified crop that carries sub-regions.
const OverviewName = "overview"

// SubRegion is a named polygon inside an overview crop, in global
// normalized coordinates.
type SubRegion struct {
	Name    string        `json:"name" yaml:"name"`
	Polygon []utils.Point `json:"polygon" yaml:"polygon"`
}

// CropRegion describes one crop taken from every unit.
type CropRegion struct {
	Name             string         `json:"name" yaml:"name"`
	BBox             utils.NormBBox `json:"bbox" yaml:"bbox"`
	OriginalPolygon  []utils.Point  `json:"original_polygon,omitempty" yaml:"original_polygon,omitempty"`
	EffectivePolygon []utils.Point  `json:"effective_polygon,omitempty" yaml:"effective_polygon,omitempty"`
	Regions          []SubRegion    `json:"regions,omitempty" yaml:"regions,omitempty"`
}

// ROI is the area of the frame the polygons were drawn relative to.
type ROI struct {
	X      float64 `json:"x_normalized" yaml:"x_normalized"`
	Y      float64 `json:"y_normalized" yaml:"y_normalized"`
	Width  float64 `json:"width_normalized" yaml:"width_normalized"`
	Height float64 `json:"height_normalized" yaml:"height_normalized"`
}

// ToGlobal maps ROI-relative points into full-frame normalized points.
func (r *ROI) ToGlobal(pts []utils.Point) []utils.Point {
	if r == nil || len(pts) == 0 {
		return pts
	}
	out := make([]utils.Point, len(pts))
	for i, p := range pts {
		out[i] = utils.Point{X: r.X + p.X*r.Width, Y: r.Y + p.Y*r.Height}
	}
	return out
}

// RegionsFile is the on-disk regions document.
type RegionsFile struct {
	ROI   *ROI         `json:"roi,omitempty" yaml:"roi,omitempty"`
	Crops []CropRegion `json:"crops" yaml:"crops"`
}

// LoadRegions reads a regions file (.yaml, .yml or .json) and resolves it
// into global crop regions ready for the crop stage.
func LoadRegions(path string) ([]CropRegion, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	var f RegionsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unsupported regions file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse regions file %s: %w", path, err)
	}
	return f.Resolve()
}

// SaveRegions writes f to path, encoding by extension.
func SaveRegions(path string, f RegionsFile) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(f, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(f)
	default:
		return fmt.Errorf("unsupported regions file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// Resolve converts ROI-relative polygons to global coordinates, fills in
// missing effective polygons and bboxes, and validates the result.
func (f RegionsFile) Resolve() ([]CropRegion, error) {
	if len(f.Crops) == 0 {
		return nil, errors.New("regions file declares no crops")
	}
	seen := make(map[string]bool, len(f.Crops))
	out := make([]CropRegion, 0, len(f.Crops))
	for _, c := range f.Crops {
		c.OriginalPolygon = f.ROI.ToGlobal(c.OriginalPolygon)
		c.EffectivePolygon = f.ROI.ToGlobal(c.EffectivePolygon)
		for i := range c.Regions {
			c.Regions[i].Polygon = f.ROI.ToGlobal(c.Regions[i].Polygon)
		}
		if len(c.EffectivePolygon) == 0 {
			c.EffectivePolygon = c.OriginalPolygon
		}
		if c.BBox.Width <= 0 || c.BBox.Height <= 0 {
			c.BBox = utils.BBoxWithPadding(c.allPoints(), CropPadding)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate crop name %q", c.Name)
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out, nil
}

// Validate checks that the crop can be cut from a frame.
func (c CropRegion) Validate() error {
	if c.Name == "" {
		return errors.New("crop without a name")
	}
	b := c.BBox
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("crop %q: empty bbox", c.Name)
	}
	const eps = 1e-9
	if b.X < -eps || b.Y < -eps || b.X+b.Width > 1+eps || b.Y+b.Height > 1+eps {
		return fmt.Errorf("crop %q: bbox %+v outside the frame", c.Name, b)
	}
	if len(c.OriginalPolygon) > 0 && len(c.OriginalPolygon) < 3 {
		return fmt.Errorf("crop %q: polygon needs at least 3 points", c.Name)
	}
	for _, r := range c.Regions {
		if r.Name == "" || len(r.Polygon) < 3 {
			return fmt.Errorf("crop %q: sub-region %q needs a name and 3 points", c.Name, r.Name)
		}
	}
	return nil
}

func (c CropRegion) allPoints() []utils.Point {
	pts := append([]utils.Point(nil), c.OriginalPolygon...)
	pts = append(pts, c.EffectivePolygon...)
	for _, r := range c.Regions {
		pts = append(pts, r.Polygon...)
	}
	return pts
}
