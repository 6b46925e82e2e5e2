package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// CropWorker cuts every configured region out of a unit.
type CropWorker struct {
	Regions []artifacts.CropRegion
	// Enhance equalizes crop luminance before detection.
	Enhance bool
	In      <-chan RawFrame
	Out     chan<- PreprocessedFrame
	State   *ProcessingState
	Logger  *slog.Logger
}

// Run implements WorkerFunc. Region failures are logged and skipped.
func (w *CropWorker) Run(ctx context.Context, tok *Token) error {
	log := w.logger().With("worker", tok.ID())
	for {
		if tok.Retired() {
			return nil
		}
		var (
			f  RawFrame
			ok bool
		)
		select {
		case f, ok = <-w.In:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}

		start := time.Now()
		pf := w.Process(f, log)
		elapsed := time.Since(start)
		w.State.UpdateStage(StageCrop, 1, float64(elapsed.Microseconds())/1000)
		observeUnit(StageCrop, elapsed.Seconds())

		select {
		case w.Out <- pf:
		case <-ctx.Done():
			return nil
		}
	}
}

// Process crops one unit. A unit whose regions all fail still produces a
// frame with no crops, so downstream ordering sees its id.
func (w *CropWorker) Process(f RawFrame, log *slog.Logger) PreprocessedFrame {
	out := PreprocessedFrame{ID: f.ID, Crops: make([]CropData, 0, len(w.Regions))}
	for _, r := range w.Regions {
		c, err := CropRegion(f.Image, r, w.Enhance)
		if err != nil {
			log.Warn("crop failed, skipping region", "unit", f.ID, "region", r.Name, "error", err)
			unitsSkipped.WithLabelValues(StageCrop).Inc()
			continue
		}
		out.Crops = append(out.Crops, c)
	}
	return out
}

// CropRegion cuts r out of img and remaps its polygons to crop pixels.
func CropRegion(img image.Image, r artifacts.CropRegion, enhance bool) (CropData, error) {
	if img == nil {
		return CropData{}, fmt.Errorf("region %s: nil frame", r.Name)
	}
	b := img.Bounds()
	rect := r.BBox.PixelRect(b.Dx(), b.Dy()).Add(b.Min)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return CropData{}, fmt.Errorf("region %s: empty pixel rect %v", r.Name, rect)
	}
	crop, err := utils.CropImageRect(img, rect)
	if err != nil {
		return CropData{}, fmt.Errorf("region %s: %w", r.Name, err)
	}
	if enhance {
		crop = utils.EqualizeLuminance(crop)
	}

	cw, ch := rect.Dx(), rect.Dy()
	data := CropData{
		Suffix:           r.Name,
		Image:            crop,
		OriginalPolygon:  utils.RemapPolygon(r.OriginalPolygon, r.BBox, cw, ch),
		EffectivePolygon: utils.RemapPolygon(r.EffectivePolygon, r.BBox, cw, ch),
	}
	if len(r.Regions) > 0 {
		data.Regions = make([]artifacts.SubRegion, len(r.Regions))
		for i, sub := range r.Regions {
			data.Regions[i] = artifacts.SubRegion{
				Name:    sub.Name,
				Polygon: utils.RemapPolygon(sub.Polygon, r.BBox, cw, ch),
			}
		}
	}
	return data, nil
}

func (w *CropWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default().With("stage", StageCrop)
	}
	return w.Logger
}
