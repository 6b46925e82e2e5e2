package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/runs"
	"github.com/MeKo-Tech/endzone/internal/testutil"
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

// gate holds every detect call until opened, keeping a run active.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate(t *testing.T) *gate {
	g := &gate{ch: make(chan struct{})}
	t.Cleanup(g.open)
	return g
}

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) factory() pipeline.DetectorFactory {
	return func() (detector.Detector, error) {
		return detector.Func(func(img image.Image) ([]detector.Detection, error) {
			<-g.ch
			return testutil.DetectBlobs(img)
		}), nil
	}
}

// startGated registers a run that stays active until the returned gate opens.
func startGated(t *testing.T, reg *runs.Registry, id string) (*pipeline.Manager, *gate) {
	t.Helper()
	g := newGate(t)
	cfg := runConfig(t, id, 6)
	cfg.NewDetector = g.factory()
	m, err := reg.Start(context.Background(), cfg)
	require.NoError(t, err)
	return m, g
}

func waitDone(t *testing.T, m *pipeline.Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("run %s did not finish", m.RunID())
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, http.Handler) {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = runs.NewRegistry(nil)
	}
	if cfg.StreamInterval == 0 {
		cfg.StreamInterval = 10 * time.Millisecond
	}
	s := NewServer(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Registry().Shutdown(ctx)
	})
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
