package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/endzone/internal/source"
)

// ReadWorker pulls ranges from a shared RangePool and decodes their units
// with its own source session.
type ReadWorker struct {
	Ranges *RangePool
	Open   source.Opener
	Out    chan<- RawFrame
	State  *ProcessingState
	Logger *slog.Logger
}

// Run implements WorkerFunc. A failure to open the source is fatal to the
// worker; a decode failure only ends the current range.
func (w *ReadWorker) Run(ctx context.Context, tok *Token) error {
	src, err := w.Open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	log := w.logger().With("worker", tok.ID())
	for {
		if tok.Retired() || ctx.Err() != nil || !w.State.IsActive() {
			return nil
		}
		r, ok := w.Ranges.Pop()
		if !ok {
			return nil
		}
		if done := w.readRange(ctx, tok, src, r, log); done {
			return nil
		}
	}
}

// readRange decodes r and reports whether the worker should stop.
func (w *ReadWorker) readRange(ctx context.Context, tok *Token, src source.FrameSource, r WorkRange, log *slog.Logger) bool {
	for id := r.Start; id < r.End; id++ {
		if tok.Retired() || ctx.Err() != nil || !w.State.IsActive() {
			w.Ranges.PushFront(WorkRange{Start: id, End: r.End})
			return true
		}

		start := time.Now()
		img, err := src.ReadUnit(ctx, id)
		switch {
		case errors.Is(err, source.ErrEndOfStream):
			w.Ranges.Truncate(id)
			if w.State.CorrectTotal(id) {
				log.Info("end of stream before advertised length, total corrected", "total", id)
			}
			return false
		case ctx.Err() != nil:
			return true
		case err != nil:
			log.Warn("decode failed, abandoning range", "unit", id, "range_end", r.End, "error", err)
			unitsSkipped.WithLabelValues(StageReader).Add(float64(r.End - id))
			return false
		}

		select {
		case w.Out <- RawFrame{ID: id, Image: img}:
		case <-ctx.Done():
			return true
		}
		elapsed := time.Since(start)
		w.State.AddRead()
		w.State.UpdateStage(StageReader, 1, float64(elapsed.Microseconds())/1000)
		observeUnit(StageReader, elapsed.Seconds())
	}
	return false
}

func (w *ReadWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default().With("stage", StageReader)
	}
	return w.Logger
}
