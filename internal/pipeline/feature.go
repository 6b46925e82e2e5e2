package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/features"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// FeatureStage restores unit order, scores occupancy, runs the cliff
// detector and appends the feature and point CSVs. It is single-instance.
type FeatureStage struct {
	Engine          features.EngineConfig
	MaxReorderDepth int
	OutputDir       string
	In              <-chan DetectedFrame
	Out             chan<- DetectedFrame
	State           *ProcessingState
	Logger          *slog.Logger
	// OnCliff is called for every confirmed point start.
	OnCliff func(DetectedFrame)
}

// Run consumes In until it closes or ctx is cancelled, flushes what is
// buffered through the same release path, and closes Out.
func (s *FeatureStage) Run(ctx context.Context) (err error) {
	defer close(s.Out)
	log := s.logger()

	flog, err := artifacts.CreateFeatureLog(s.OutputDir)
	if err != nil {
		return err
	}
	plog, err := artifacts.CreatePointLog(s.OutputDir)
	if err != nil {
		_ = flog.Close()
		return err
	}
	defer func() {
		err = errors.Join(err, flog.Close(), plog.Close())
	}()

	depth := s.MaxReorderDepth
	if depth <= 0 {
		depth = features.DefaultMaxReorderDepth
	}
	reorder := features.NewReorderer[DetectedFrame](0, depth)
	engine := features.NewEngine[DetectedFrame](s.Engine)

	emit := func(released []features.Released[DetectedFrame]) error {
		for _, r := range released {
			if err := s.release(r, flog, plog); err != nil {
				return err
			}
		}
		return nil
	}
	push := func(frames []DetectedFrame) error {
		for _, f := range frames {
			left, right, field := s.occupancy(&f)
			if err := emit(engine.Push(f.ID, left, right, field, f)); err != nil {
				return err
			}
		}
		return nil
	}

loop:
	for {
		select {
		case f, ok := <-s.In:
			if !ok {
				break loop
			}
			ready, perr := reorder.Push(f.ID, f)
			if perr != nil {
				log.Warn("dropping out-of-order unit", "unit", f.ID, "error", perr)
				unitsSkipped.WithLabelValues(StageFeature).Inc()
				continue
			}
			reorderPending.Set(float64(reorder.Pending()))
			if err := push(ready); err != nil {
				return err
			}
		case <-ctx.Done():
			log.Info("run cancelled, flushing buffered units")
			break loop
		}
	}

	if n := reorder.Pending(); n > 0 {
		log.Warn("flushing units behind a gap", "pending", n, "next", reorder.Next())
	}
	if err := push(reorder.Flush()); err != nil {
		return err
	}
	reorderPending.Set(0)
	if err := emit(engine.Flush()); err != nil {
		return err
	}
	if n := reorder.Skipped(); n > 0 {
		log.Warn("units never arrived", "missing", n)
	}
	return nil
}

func (s *FeatureStage) release(r features.Released[DetectedFrame], flog *artifacts.FeatureLog, plog *artifacts.PointLog) error {
	start := time.Now()
	f := r.Payload
	f.LeftCount, f.RightCount, f.FieldCount = r.Left, r.Right, r.Field
	f.Score = r.Score
	f.IsCliff = r.IsCliff
	f.LeftEmptiedFirst = r.LeftEmptiedFirst
	f.RightEmptiedFirst = r.RightEmptiedFirst
	f.MaybeFalsePositive = r.MaybeFalsePositive

	if err := flog.Append(artifacts.FeatureRow{
		ID:      f.ID,
		Left:    f.LeftCount,
		Right:   f.RightCount,
		Field:   f.FieldCount,
		Score:   f.Score,
		IsCliff: f.IsCliff,
	}); err != nil {
		return fmt.Errorf("append features: %w", err)
	}
	if f.IsCliff {
		if err := plog.Append(artifacts.PointRow{
			ID:                f.ID,
			LeftEmptiedFirst:  f.LeftEmptiedFirst,
			RightEmptiedFirst: f.RightEmptiedFirst,
		}); err != nil {
			return fmt.Errorf("append points: %w", err)
		}
		cliffsDetected.Inc()
		s.logger().Info("point start confirmed", "unit", f.ID,
			"left_emptied_first", f.LeftEmptiedFirst,
			"right_emptied_first", f.RightEmptiedFirst,
			"maybe_false_positive", f.MaybeFalsePositive)
		if s.OnCliff != nil {
			s.OnCliff(f)
		}
	}

	elapsed := time.Since(start)
	s.State.AddProcessed()
	s.State.UpdateStage(StageFeature, 1, float64(elapsed.Microseconds())/1000)
	observeUnit(StageFeature, elapsed.Seconds())
	s.Out <- f
	return nil
}

// occupancy counts people per region and marks counted detections.
// Dedicated left/right/field crops count inside their effective polygon;
// an overview crop counts inside each named sub-region.
func (s *FeatureStage) occupancy(f *DetectedFrame) (left, right, field float64) {
	counts := map[string]float64{}
	for i := range f.Results {
		res := &f.Results[i]
		for j := range res.Detections {
			res.Detections[j].Counted = false
		}
		if len(res.Regions) > 0 {
			for _, sub := range res.Regions {
				counts[sub.Name] += countInto(res.Detections, sub.Polygon, s.Engine.TeamSize)
			}
			continue
		}
		poly := res.EffectivePolygon
		if len(poly) == 0 {
			poly = res.OriginalPolygon
		}
		counts[res.Suffix] += countInto(res.Detections, poly, s.Engine.TeamSize)
	}
	return counts[features.RegionLeft], counts[features.RegionRight], counts[features.RegionField]
}

// countInto counts detections in poly and ORs the counted flag into dets.
func countInto(dets []detector.Detection, poly []utils.Point, teamSize int) float64 {
	tmp := slices.Clone(dets)
	v := features.CountOccupancy(tmp, poly, teamSize)
	for i := range tmp {
		if tmp[i].Counted {
			dets[i].Counted = true
		}
	}
	return v
}

func (s *FeatureStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("stage", StageFeature)
	}
	return s.Logger
}
