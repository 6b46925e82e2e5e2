package runs

import (
	"context"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/source"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConfig(t *testing.T, id string, units int) pipeline.Config {
	t.Helper()
	root := t.TempDir()
	frames := testutil.WriteFrames(t, filepath.Join(root, "frames"), testutil.PointScript(units/2, units))
	return pipeline.Config{
		RunID:              id,
		Source:             frames,
		Open:               testutil.FramesOpener(t, frames),
		Regions:            testutil.FieldRegions(),
		NewDetector:        func() (detector.Detector, error) { return testutil.BlobDetector(), nil },
		OutputDir:          filepath.Join(root, "out"),
		SampleRate:         1,
		SupervisorInterval: 5 * time.Millisecond,
		ProgressInterval:   10 * time.Millisecond,
	}
}

// gate blocks every detect call until opened.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) factory() pipeline.DetectorFactory {
	return func() (detector.Detector, error) {
		return detector.Func(func(img image.Image) ([]detector.Detection, error) {
			<-g.ch
			return testutil.DetectBlobs(img)
		}), nil
	}
}

func waitDone(t *testing.T, m *pipeline.Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("run %s did not finish", m.RunID())
	}
}

func TestRegistry_StartGetList(t *testing.T) {
	r := NewRegistry(nil)
	m, err := r.Start(context.Background(), runConfig(t, "", 6))
	require.NoError(t, err)
	assert.Len(t, m.RunID(), 36)

	got, err := r.Get(m.RunID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	waitDone(t, m)
	require.NoError(t, m.Wait())

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, m.RunID(), list[0].ID)
	assert.True(t, list[0].Progress.IsComplete)
	assert.EqualValues(t, 6, list[0].Progress.FramesProcessed)
	assert.Zero(t, r.Active())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, r.Stop("nope"), ErrRunNotFound)
}

func TestRegistry_RefusesActiveID(t *testing.T) {
	r := NewRegistry(nil)
	g := newGate()
	defer g.open()

	cfg := runConfig(t, "match-1", 4)
	cfg.NewDetector = g.factory()
	m, err := r.Start(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Active())

	_, err = r.Start(context.Background(), runConfig(t, "match-1", 4))
	assert.ErrorIs(t, err, ErrRunActive)

	g.open()
	waitDone(t, m)

	again, err := r.Start(context.Background(), runConfig(t, "match-1", 4))
	require.NoError(t, err)
	assert.NotSame(t, m, again)
	waitDone(t, again)
	assert.Len(t, r.List(), 1, "a finished id is replaced, not duplicated")
}

func TestRegistry_Stop(t *testing.T) {
	r := NewRegistry(nil)
	g := newGate()
	cfg := runConfig(t, "stop-me", 20)
	cfg.NewDetector = g.factory()

	m, err := r.Start(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, r.Stop("stop-me"))
	g.open()

	waitDone(t, m)
	snap := m.Progress()
	assert.True(t, snap.IsComplete)
	assert.False(t, snap.IsActive)
}

func TestRegistry_StartFailureIsForgotten(t *testing.T) {
	r := NewRegistry(nil)
	cfg := runConfig(t, "broken", 2)
	cfg.Open = func() (source.FrameSource, error) { return nil, assert.AnError }

	_, err := r.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, assert.AnError)
	_, err = r.Get("broken")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Empty(t, r.List())

	cfg.Regions = nil
	_, err = r.Start(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRegistry_FailedRestartKeepsFinishedRun(t *testing.T) {
	r := NewRegistry(nil)
	first, err := r.Start(context.Background(), runConfig(t, "x", 4))
	require.NoError(t, err)
	waitDone(t, first)

	cfg := runConfig(t, "x", 4)
	cfg.Open = func() (source.FrameSource, error) { return nil, assert.AnError }
	_, err = r.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, assert.AnError)

	got, err := r.Get("x")
	require.NoError(t, err)
	assert.Same(t, first, got)
	require.Len(t, r.List(), 1)
}

func TestRegistry_Shutdown(t *testing.T) {
	r := NewRegistry(nil)
	g := newGate()
	cfg := runConfig(t, "long", 20)
	cfg.NewDetector = g.factory()
	m, err := r.Start(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)

	g.open()
	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, m.Progress().IsComplete)
	assert.Zero(t, r.Active())
}

func TestRegistry_DropsOldestFinished(t *testing.T) {
	r := NewRegistry(nil)
	r.maxFinished = 1

	for _, id := range []string{"a", "b", "c"} {
		m, err := r.Start(context.Background(), runConfig(t, id, 4))
		require.NoError(t, err)
		waitDone(t, m)
	}

	_, err := r.Get("a")
	assert.ErrorIs(t, err, ErrRunNotFound)
	var ids []string
	for _, info := range r.List() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}
