package support

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/runs"
	"github.com/MeKo-Tech/endzone/internal/server"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/google/uuid"
)

// HTTPTestServerWrapper wraps httptest.Server for integration tests.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
	Registry   *runs.Registry
}

// ServerOptions tunes the in-process control server.
type ServerOptions struct {
	CORSOrigin        string
	RequestsPerMinute int
}

// blobDetectors stands in for the ONNX detector.
func blobDetectors() (detector.Detector, error) {
	return testutil.BlobDetector(), nil
}

// launcher starts runs against the scenario's synthetic match with the
// blob detector.
func (testCtx *TestContext) launcher(req server.StartRunRequest) (pipeline.Config, error) {
	if testCtx.Match == nil {
		return pipeline.Config{}, errors.New("no synthetic match in this scenario")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	c := config.DefaultConfig()
	c.Source.Kind = "frames"
	c.Source.Path = req.SourcePath
	c.Source.FramePattern = "*.png"
	c.Source.FPS = 1
	if req.SourceKind != "" {
		c.Source.Kind = req.SourceKind
	}
	c.Run.RegionsFile = testCtx.Match.Regions
	if req.RegionsFile != "" {
		c.Run.RegionsFile = req.RegionsFile
	}
	c.Run.OutputDir = req.OutputDir
	if c.Run.OutputDir == "" {
		c.Run.OutputDir = filepath.Join(testCtx.Match.Output, req.RunID)
	}
	if err := c.Validate(); err != nil {
		return pipeline.Config{}, err
	}

	pcfg, err := c.ToPipelineConfig(blobDetectors)
	if err != nil {
		return pipeline.Config{}, err
	}
	pcfg.RunID = req.RunID
	pcfg.Logger = slog.Default()
	return pcfg, nil
}

// createTestHTTPServer starts an in-process control server.
func (testCtx *TestContext) createTestHTTPServer(opts ServerOptions) error {
	if testCtx.HTTPTestServer != nil {
		return errors.New("control server already running")
	}
	registry := runs.NewRegistry(slog.Default())
	srv := server.NewServer(server.Config{
		Registry:          registry,
		Launch:            testCtx.launcher,
		CORSOrigin:        opts.CORSOrigin,
		RequestsPerMinute: opts.RequestsPerMinute,
		StreamInterval:    20 * time.Millisecond,
		Version:           "integration",
	})

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(srv.Handler()),
		TestServer: srv,
		Registry:   registry,
	}
	return nil
}

// stopTestHTTPServer drains the registry and closes the server.
func (testCtx *TestContext) stopTestHTTPServer() error {
	w := testCtx.HTTPTestServer
	if w == nil {
		return nil
	}
	testCtx.HTTPTestServer = nil

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := w.Registry.Shutdown(ctx)
	w.Server.Close()
	return err
}
