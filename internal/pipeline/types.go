package pipeline

import (
	"image"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// Stage names used in progress snapshots, metrics and scale requests.
const (
	StageReader   = "reader"
	StageCrop     = "crop"
	StageDetect   = "detect"
	StageFeature  = "feature"
	StageFinalize = "finalize"
)

// Stages lists every stage in pipeline order.
var Stages = []string{StageReader, StageCrop, StageDetect, StageFeature, StageFinalize}

// ElasticStages are the stages backed by a scalable worker pool.
var ElasticStages = []string{StageReader, StageCrop, StageDetect}

// RawFrame is one decoded unit.
type RawFrame struct {
	ID    int
	Image image.Image
}

// CropData is one region cut out of a unit, with polygons in crop pixels.
type CropData struct {
	Suffix           string
	Image            image.Image
	OriginalPolygon  []utils.Point
	EffectivePolygon []utils.Point
	Regions          []artifacts.SubRegion
}

// PreprocessedFrame holds every crop of a unit.
type PreprocessedFrame struct {
	ID    int
	Crops []CropData
}

// CropResult is the detection output for one crop.
type CropResult struct {
	Suffix           string                `json:"suffix"`
	Detections       []detector.Detection  `json:"detections"`
	OriginalPolygon  []utils.Point         `json:"original_polygon,omitempty"`
	EffectivePolygon []utils.Point         `json:"effective_polygon,omitempty"`
	Regions          []artifacts.SubRegion `json:"regions,omitempty"`
	Width            int                   `json:"width"`
	Height           int                   `json:"height"`

	Image image.Image `json:"-"`
}

// DetectedFrame is the unit of persistence. The derived fields are filled
// by the feature stage and are final once the unit leaves it.
type DetectedFrame struct {
	ID      int          `json:"id"`
	Results []CropResult `json:"results"`

	LeftCount          float64 `json:"left_count"`
	RightCount         float64 `json:"right_count"`
	FieldCount         float64 `json:"field_count"`
	Score              float64 `json:"pre_point_score"`
	IsCliff            bool    `json:"is_cliff"`
	LeftEmptiedFirst   bool    `json:"left_emptied_first"`
	RightEmptiedFirst  bool    `json:"right_emptied_first"`
	MaybeFalsePositive bool    `json:"maybe_false_positive"`
}

// withoutImages returns a copy safe to retain for the whole run.
func (f DetectedFrame) withoutImages() DetectedFrame {
	out := f
	out.Results = make([]CropResult, len(f.Results))
	for i, r := range f.Results {
		r.Image = nil
		out.Results[i] = r
	}
	return out
}
