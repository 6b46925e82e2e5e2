package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/endzone/internal/common"
	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/version"
	"github.com/spf13/cobra"
)

const (
	progressConsole = "console"
	progressLog     = "log"
	progressNone    = "none"
)

// detectorFactory builds the per-worker detector factory. Tests replace it
// to run without an ONNX model.
var detectorFactory = func(cfg *config.Config) (pipeline.DetectorFactory, error) {
	return cfg.DetectorFactory()
}

// processCmd represents the process command.
var processCmd = &cobra.Command{
	Use:   "process [source]",
	Short: "Run point-start detection over a recorded match",
	Long: `Sample a match video (or a directory of frames), detect players in the
configured crop regions and write the per-unit features, detected point
starts and run metadata to the output directory.

The first interrupt drains in-flight units and flushes the artifacts; a
second one cancels the run.

Examples:
  endzone process match.mp4 --regions regions.yaml --model models/yolo.onnx
  endzone process frames/ --source-kind frames --fps 30 --sample-rate 2
  endzone process match.mp4 --detectors 2 --annotate --output out/final`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if len(args) == 1 {
			cfg.Source.Path = args[0]
		}
		if cfg.Source.Path == "" {
			return errors.New("no source given: pass it as an argument or set source.path")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		runID, _ := cmd.Flags().GetString("run-id")
		mode, _ := cmd.Flags().GetString("progress")
		progress, err := newProgressCallback(mode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()
		return runProcess(ctx, cancel, cfg, runID, progress, cmd.OutOrStdout())
	},
}

func newProgressCallback(mode string, w io.Writer) (pipeline.ProgressCallback, error) {
	switch mode {
	case progressConsole:
		return pipeline.NewConsoleProgressCallback(w, ""), nil
	case progressLog:
		return pipeline.NewLogProgressCallback(slog.Default(), slog.LevelInfo), nil
	case progressNone:
		return pipeline.NoOpProgressCallback{}, nil
	default:
		return nil, fmt.Errorf("invalid progress mode %q (use console, log or none)", mode)
	}
}

func runProcess(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, runID string,
	progress pipeline.ProgressCallback, out io.Writer,
) error {
	timer := common.NewTimer()

	factory, err := detectorFactory(cfg)
	if err != nil {
		return err
	}
	pcfg, err := cfg.ToPipelineConfig(factory)
	if err != nil {
		return err
	}
	pcfg.RunID = runID
	pcfg.Progress = progress
	pcfg.Logger = slog.Default()
	pcfg.Version = version.Version

	m, err := pipeline.NewManager(pcfg)
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	timer.Lap("setup")

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case s := <-sig:
			slog.Info("Received shutdown signal, draining", "signal", s.String())
			m.Stop()
		case <-m.Done():
			return
		}
		select {
		case <-sig:
			slog.Warn("Second signal, cancelling run")
			cancel()
		case <-m.Done():
		}
	}()

	runErr := m.Wait()
	timer.Lap("run")

	snap := m.Progress()
	_, _ = fmt.Fprintf(out, "Run %s: %d/%d units processed, output in %s (%s)\n",
		snap.RunID, snap.FramesProcessed, snap.TotalFrames, cfg.Run.OutputDir, timer)
	slog.Debug("process finished", "memory", common.GetMemoryStats().String())
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", snap.RunID, runErr)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(processCmd)

	f := processCmd.Flags()
	f.String("source-kind", "ffmpeg", "source backend: ffmpeg or frames")
	f.Float64("fps", 0, "source frame rate for the frames backend (ffmpeg probes it)")
	f.String("regions", "regions.yaml", "crop regions file (.yaml or .json)")
	f.StringP("output", "o", "output", "output directory")
	f.Float64("sample-rate", 1.0, "units sampled per second of video")
	f.Int("team-size", 7, "players per team on the field")
	f.Int("readers", 2, "initial reader workers")
	f.Int("croppers", 1, "initial crop workers")
	f.Int("detectors", 1, "initial detection workers")
	f.String("model", "", "ONNX detection model path")
	f.String("onnx-lib", "", "ONNX Runtime shared library path")
	f.Int("tile-size", 0, "detection tile size in pixels (0 disables tiling)")
	f.Bool("save-crops", false, "write every crop as JPEG")
	f.Bool("annotate", false, "write annotated images for detected point starts")
	f.Bool("gpu", false, "enable GPU acceleration using CUDA")
	f.Int("gpu-device", 0, "CUDA device ID to use")
	f.String("run-id", "", "run id (default: random uuid)")
	f.String("progress", progressConsole, "progress output: console, log or none")

	commandBindings[processCmd] = []flagBinding{
		{"source.kind", "source-kind"},
		{"source.fps", "fps"},
		{"run.regions_file", "regions"},
		{"run.output_dir", "output"},
		{"run.sample_rate", "sample-rate"},
		{"run.team_size", "team-size"},
		{"run.save_crops", "save-crops"},
		{"run.annotate", "annotate"},
		{"pipeline.readers", "readers"},
		{"pipeline.croppers", "croppers"},
		{"pipeline.detectors", "detectors"},
		{"detector.model_path", "model"},
		{"detector.library_path", "onnx-lib"},
		{"detector.tile_size", "tile-size"},
		{"gpu.enabled", "gpu"},
		{"gpu.device", "gpu-device"},
	}
}
