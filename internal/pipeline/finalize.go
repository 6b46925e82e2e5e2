package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
)

// DefaultSnapshotEvery is how many units pass between detections.json
// snapshots.
const DefaultSnapshotEvery = 25

// FinalizeStage persists the finalized stream. It is single-instance and
// always drains In, so the feature stage never blocks on it.
type FinalizeStage struct {
	OutputDir     string
	SaveCrops     bool
	Annotate      bool
	SnapshotEvery int
	In            <-chan DetectedFrame
	State         *ProcessingState
	Logger        *slog.Logger
	// OnUnit is called after each unit is accepted.
	OnUnit func(DetectedFrame)
}

// Run consumes In until it closes, then writes the final detections.json
// and marks the run complete. Periodic snapshots are best effort; the
// final write's error is returned.
func (s *FinalizeStage) Run() error {
	log := s.logger()
	every := s.SnapshotEvery
	if every <= 0 {
		every = DefaultSnapshotEvery
	}
	path := filepath.Join(s.OutputDir, artifacts.DetectionsFile)
	log.Info("finalize started", "output_dir", s.OutputDir, "save_crops", s.SaveCrops, "annotate", s.Annotate)

	var all []DetectedFrame
	for f := range s.In {
		start := time.Now()
		s.writeImages(f, log)
		all = append(all, f.withoutImages())

		if len(all)%every == 0 {
			if err := artifacts.WriteJSON(path, all, false); err != nil {
				log.Warn("snapshot write failed", "units", len(all), "error", err)
			}
		}
		elapsed := time.Since(start)
		s.State.UpdateStage(StageFinalize, 1, float64(elapsed.Microseconds())/1000)
		observeUnit(StageFinalize, elapsed.Seconds())
		if s.OnUnit != nil {
			s.OnUnit(f)
		}
	}

	if all == nil {
		all = []DetectedFrame{}
	}
	log.Info("writing final detections", "units", len(all))
	err := artifacts.WriteJSON(path, all, true)
	s.State.MarkComplete()
	if err != nil {
		return fmt.Errorf("final detections write: %w", err)
	}
	return nil
}

func (s *FinalizeStage) writeImages(f DetectedFrame, log *slog.Logger) {
	if !s.SaveCrops && !s.Annotate {
		return
	}
	for _, res := range f.Results {
		if res.Image == nil {
			continue
		}
		name := artifacts.CropImageName(f.ID, res.Suffix)
		if s.SaveCrops {
			if err := artifacts.SaveJPEG(filepath.Join(s.OutputDir, artifacts.CropsDir, name), res.Image); err != nil {
				log.Warn("crop write failed", "unit", f.ID, "region", res.Suffix, "error", err)
			}
		}
		if s.Annotate {
			img := RenderAnnotations(res)
			if err := artifacts.SaveJPEG(filepath.Join(s.OutputDir, artifacts.AnnotatedDir, name), img); err != nil {
				log.Warn("annotation write failed", "unit", f.ID, "region", res.Suffix, "error", err)
			}
		}
	}
}

func (s *FinalizeStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("stage", StageFinalize)
	}
	return s.Logger
}
