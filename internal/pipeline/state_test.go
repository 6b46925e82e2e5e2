package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingState_Counters(t *testing.T) {
	s := NewProcessingState("run-1", 100)
	assert.True(t, s.IsActive())
	assert.False(t, s.IsComplete())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				s.AddRead()
				s.AddProcessed()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.EqualValues(t, 100, snap.FramesRead)
	assert.EqualValues(t, 100, snap.FramesProcessed)
	assert.EqualValues(t, 100, snap.TotalFrames)
	assert.Len(t, snap.Stages, len(Stages))
	assert.Positive(t, snap.Resources.Goroutines)
}

func TestProcessingState_UpdateStageEMA(t *testing.T) {
	s := NewProcessingState("r", 10)
	s.UpdateStage(StageDetect, 1, 100)
	assert.InDelta(t, 100, s.Snapshot().Stages[StageDetect].MsPerUnit, 1e-9, "first sample seeds the average")

	s.UpdateStage(StageDetect, 1, 200)
	p := s.Snapshot().Stages[StageDetect]
	assert.InDelta(t, 105, p.MsPerUnit, 1e-9)
	assert.EqualValues(t, 2, p.Current)
	assert.EqualValues(t, 10, p.Total)
}

func TestProcessingState_ObserveThroughput(t *testing.T) {
	s := NewProcessingState("r", 10)
	s.ObserveThroughput(0)
	assert.Zero(t, s.Snapshot().ProcessingRate)

	s.ObserveThroughput(50)
	assert.InDelta(t, 20, s.Snapshot().ProcessingRate, 1e-9)
}

func TestProcessingState_CorrectTotal(t *testing.T) {
	s := NewProcessingState("r", 100)
	assert.False(t, s.CorrectTotal(120), "totals are never raised")
	assert.False(t, s.TotalCorrected())

	assert.True(t, s.CorrectTotal(80))
	assert.False(t, s.CorrectTotal(90))
	assert.True(t, s.CorrectTotal(75))
	assert.True(t, s.TotalCorrected())
	assert.Equal(t, 75, s.Total())
	for _, stage := range Stages {
		assert.EqualValues(t, 75, s.Snapshot().Stages[stage].Total, stage)
	}
}

func TestProcessingState_Flags(t *testing.T) {
	s := NewProcessingState("r", 1)
	s.Deactivate()
	assert.False(t, s.IsActive())
	assert.False(t, s.IsComplete())

	s.MarkComplete()
	assert.True(t, s.IsComplete())
	assert.False(t, s.Snapshot().IsActive)
}

func TestProcessingState_SetErrorKeepsFirst(t *testing.T) {
	s := NewProcessingState("r", 1)
	s.SetError("detect: model missing")
	s.SetError("crop: later")
	assert.Equal(t, "detect: model missing", s.Err())
	assert.Equal(t, "detect: model missing", s.Snapshot().Error)
}

func TestProcessingState_SnapshotWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewProcessingState("r", 1)
	p := NewPool(ctx, StageDetect, idleWorker, nil)
	s.registerPool(StageDetect, p)
	p.Start(2)

	w := s.Snapshot().Workers[StageDetect]
	assert.Equal(t, 2, w.Target)
	require.Equal(t, 2, w.Active)

	cancel()
	p.Wait()
}
