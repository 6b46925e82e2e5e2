package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/runs"
	"github.com/MeKo-Tech/endzone/internal/server"
	"github.com/MeKo-Tech/endzone/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Start an HTTP server that starts, watches and steers runs.

The server provides the following endpoints:
  GET  /health              - Health check endpoint
  GET  /runs                - List runs
  POST /runs                - Start a run from the configured defaults
  GET  /runs/{id}/progress  - Progress snapshot
  GET  /runs/{id}/ws        - Progress stream (websocket)
  POST /runs/{id}/scale     - Change a stage's worker count
  POST /runs/{id}/stop      - Drain and finish a run
  GET  /metrics             - Prometheus metrics

Examples:
  endzone serve
  endzone serve --port 8080
  endzone serve --host 0.0.0.0 --requests-per-minute 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

// newLauncher builds run configurations from cfg with per-request source
// and output overrides. Runs without an explicit output directory write to
// <run.output_dir>/<run id>.
func newLauncher(cfg *config.Config) server.Launcher {
	return func(req server.StartRunRequest) (pipeline.Config, error) {
		c := *cfg
		c.Source.Path = req.SourcePath
		if req.SourceKind != "" {
			c.Source.Kind = req.SourceKind
		}
		if req.RegionsFile != "" {
			c.Run.RegionsFile = req.RegionsFile
		}
		runID := req.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		c.Run.OutputDir = req.OutputDir
		if c.Run.OutputDir == "" {
			c.Run.OutputDir = filepath.Join(cfg.Run.OutputDir, runID)
		}
		if err := c.Validate(); err != nil {
			return pipeline.Config{}, err
		}

		factory, err := detectorFactory(&c)
		if err != nil {
			return pipeline.Config{}, err
		}
		pcfg, err := c.ToPipelineConfig(factory)
		if err != nil {
			return pipeline.Config{}, err
		}
		pcfg.RunID = runID
		pcfg.Logger = slog.Default()
		pcfg.Progress = pipeline.NewLogProgressCallback(slog.Default(), slog.LevelInfo)
		pcfg.Version = version.Version
		return pcfg, nil
	}
}

// runServer serves until ctx ends, then shuts the listener down and drains
// every active run within server.shutdown_timeout.
func runServer(ctx context.Context, cfg *config.Config) error {
	registry := runs.NewRegistry(slog.Default())
	srvCfg := server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		CORSOrigin:        cfg.Server.CORSOrigin,
		Registry:          registry,
		Launch:            newLauncher(cfg),
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		RequestsPerHour:   cfg.Server.RequestsPerHour,
		RequestsPerDay:    cfg.Server.RequestsPerDay,
		Version:           version.Version,
	}
	srv := server.NewServer(srvCfg)

	httpServer := &http.Server{
		Addr:              srvCfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting control server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", timeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		slog.Info("Graceful shutdown completed")
		return errors.Join(errs...)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 12206, "server port")
	f.String("cors-origin", "*", "CORS allowed origin (empty disables the header)")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.Int("requests-per-minute", 0, "control requests per minute per client (0 = unlimited)")
	f.Int("requests-per-hour", 0, "control requests per hour per client (0 = unlimited)")
	f.Int("requests-per-day", 0, "control requests per day per client (0 = unlimited)")
	f.String("model", "", "ONNX detection model path")
	f.String("regions", "regions.yaml", "default crop regions file")
	f.StringP("output", "o", "output", "parent directory of run outputs")

	commandBindings[serveCmd] = []flagBinding{
		{"server.host", "host"},
		{"server.port", "port"},
		{"server.cors_origin", "cors-origin"},
		{"server.shutdown_timeout", "shutdown-timeout"},
		{"server.requests_per_minute", "requests-per-minute"},
		{"server.requests_per_hour", "requests-per-hour"},
		{"server.requests_per_day", "requests-per-day"},
		{"detector.model_path", "model"},
		{"run.regions_file", "regions"},
		{"run.output_dir", "output"},
	}
}
