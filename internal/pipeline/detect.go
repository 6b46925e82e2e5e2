package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// DefaultTargetRegions are the overview sub-regions detection runs on.
var DefaultTargetRegions = []string{"left", "right", "field"}

// DetectorFactory builds one detector per worker.
type DetectorFactory func() (detector.Detector, error)

// DetectWorker runs person detection on every crop of a unit.
type DetectWorker struct {
	NewDetector DetectorFactory
	Slice       detector.SliceConfig
	// Targets names the overview sub-regions tiles must overlap.
	Targets       []string
	MinConfidence float64
	// TargetClass keeps only one class; empty keeps all.
	TargetClass string
	In          <-chan PreprocessedFrame
	Out         chan<- DetectedFrame
	State       *ProcessingState
	Logger      *slog.Logger
}

// Run implements WorkerFunc. Detector construction or inference failure is
// fatal to the worker.
func (w *DetectWorker) Run(ctx context.Context, tok *Token) error {
	det, err := w.NewDetector()
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	defer func() { _ = det.Close() }()

	log := w.logger().With("worker", tok.ID())
	for {
		if tok.Retired() {
			return nil
		}
		var (
			pf PreprocessedFrame
			ok bool
		)
		select {
		case pf, ok = <-w.In:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}

		start := time.Now()
		df, err := w.Process(det, pf, log)
		if err != nil {
			return fmt.Errorf("unit %d: %w", pf.ID, err)
		}
		elapsed := time.Since(start)
		ms := float64(elapsed.Microseconds()) / 1000
		w.State.UpdateStage(StageDetect, 1, ms)
		w.State.ObserveThroughput(ms)
		observeUnit(StageDetect, elapsed.Seconds())

		select {
		case w.Out <- df:
		case <-ctx.Done():
			return nil
		}
	}
}

// Process detects people in every crop of pf.
func (w *DetectWorker) Process(det detector.Detector, pf PreprocessedFrame, log *slog.Logger) (DetectedFrame, error) {
	if len(pf.Crops) == 0 {
		log.Warn("passing through unit without crops", "unit", pf.ID)
	}
	targets := w.Targets
	if len(targets) == 0 {
		targets = DefaultTargetRegions
	}

	out := DetectedFrame{ID: pf.ID, Results: make([]CropResult, 0, len(pf.Crops))}
	for _, c := range pf.Crops {
		res := CropResult{
			Suffix:           c.Suffix,
			OriginalPolygon:  c.OriginalPolygon,
			EffectivePolygon: c.EffectivePolygon,
			Regions:          c.Regions,
		}
		if c.Image != nil {
			b := c.Image.Bounds()
			res.Width, res.Height = b.Dx(), b.Dy()
		}

		var polys [][]utils.Point
		if c.Suffix == artifacts.OverviewName {
			polys = targetPolygons(c.Regions, targets)
			if len(polys) == 0 {
				log.Warn("no overview sub-region matches the targets, skipping detection",
					"unit", pf.ID, "targets", targets)
				out.Results = append(out.Results, res)
				continue
			}
		}

		dets, err := detector.DetectSliced(det, c.Image, w.Slice, polys)
		if err != nil {
			return DetectedFrame{}, fmt.Errorf("crop %s: %w", c.Suffix, err)
		}
		res.Detections = detector.Filter(dets, w.MinConfidence, w.TargetClass)
		res.Image = c.Image
		out.Results = append(out.Results, res)
	}
	return out, nil
}

func targetPolygons(regions []artifacts.SubRegion, targets []string) [][]utils.Point {
	var polys [][]utils.Point
	for _, r := range regions {
		if slices.Contains(targets, r.Name) {
			polys = append(polys, r.Polygon)
		}
	}
	return polys
}

func (w *DetectWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default().With("stage", StageDetect)
	}
	return w.Logger
}
