package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/features"
	"github.com/MeKo-Tech/endzone/internal/onnx"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/source"
)

const infoLevel = "info"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	engine := features.DefaultEngineConfig()
	det := detector.DefaultConfig()
	slice := detector.DefaultSliceConfig()

	return Config{
		LogLevel:      infoLevel,
		Verbose:       false,
		LogMaxAgeDays: 7,
		Source: SourceConfig{
			Kind:         source.KindFFmpeg.String(),
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			FramePattern: source.DefaultFramePattern,
			FPS:          source.DefaultFPS,
		},
		Run: RunConfig{
			SampleRate:    1.0,
			TeamSize:      engine.TeamSize,
			OutputDir:     "output",
			RegionsFile:   "regions.yaml",
			Lookback:      engine.Lookback,
			Lookahead:     engine.Lookahead,
			SnapshotEvery: pipeline.DefaultSnapshotEvery,
		},
		Cliff: engine.Cliff,
		Pipeline: PipelineConfig{
			Readers:         2,
			Croppers:        1,
			Detectors:       1,
			ChunkSize:       pipeline.DefaultChunkSize,
			MaxReorderDepth: features.DefaultMaxReorderDepth,
			EnhanceContrast: true,
			StopOnStageLoss: true,
			FlushTimeoutSec: int(pipeline.DefaultFlushTimeout / time.Second),
		},
		Detector: DetectorConfig{
			InputSize:     det.InputSize,
			MinConfidence: det.MinConfidence,
			TargetClass:   det.TargetClass,
			BatchChunk:    slice.BatchSize,
			Regions:       slices.Clone(pipeline.DefaultTargetRegions),
			TileSize:      slice.TileSize,
			TileOverlap:   slice.Overlap,
			NMSIoU:        slice.IoUThreshold,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            12206,
			CORSOrigin:      "*",
			ShutdownTimeout: 10,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", infoLevel, "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if _, err := source.ParseKind(c.Source.Kind); err != nil {
		return err
	}
	if c.Source.FPS < 0 {
		return fmt.Errorf("invalid source fps: %g (must not be negative)", c.Source.FPS)
	}

	if c.Run.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %g (must be positive)", c.Run.SampleRate)
	}
	if c.Run.TeamSize <= 0 {
		return fmt.Errorf("invalid team size: %d (must be positive)", c.Run.TeamSize)
	}
	if c.Run.Lookback < 0 {
		return fmt.Errorf("invalid lookback: %d (must not be negative)", c.Run.Lookback)
	}
	if c.Run.Lookahead < c.Cliff.MinPostDuration {
		return fmt.Errorf("invalid lookahead: %d (must be at least cliff.min_post_duration %d)",
			c.Run.Lookahead, c.Cliff.MinPostDuration)
	}

	workers := map[string]int{
		"pipeline.readers":   c.Pipeline.Readers,
		"pipeline.croppers":  c.Pipeline.Croppers,
		"pipeline.detectors": c.Pipeline.Detectors,
	}
	for _, name := range []string{"pipeline.readers", "pipeline.croppers", "pipeline.detectors"} {
		if workers[name] < 1 {
			return fmt.Errorf("invalid %s: %d (must be at least 1)", name, workers[name])
		}
	}
	if c.Pipeline.FlushTimeoutSec < 0 {
		return fmt.Errorf("invalid pipeline.flush_timeout_sec: %d (must not be negative)", c.Pipeline.FlushTimeoutSec)
	}

	if err := validateThreshold(c.Detector.MinConfidence, "detector.min_confidence"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detector.NMSIoU, "detector.nms_iou"); err != nil {
		return err
	}
	if err := validateThreshold(c.Cliff.MaxPostScore, "cliff.max_post_score"); err != nil {
		return err
	}
	if err := validateThreshold(c.Cliff.AbsoluteThreshold, "cliff.absolute_threshold"); err != nil {
		return err
	}
	if c.Detector.TileOverlap < 0 || c.Detector.TileOverlap > 0.5 {
		return fmt.Errorf("invalid detector.tile_overlap: %.2f (must be between 0.0 and 0.5)", c.Detector.TileOverlap)
	}
	if c.Detector.TileSize < 0 {
		return fmt.Errorf("invalid detector.tile_size: %d (must not be negative)", c.Detector.TileSize)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	return nil
}

// ToSourceOptions converts the source section for source.NewOpener.
func (c *Config) ToSourceOptions() (source.Options, error) {
	kind, err := source.ParseKind(c.Source.Kind)
	if err != nil {
		return source.Options{}, err
	}
	return source.Options{
		Kind:         kind,
		Path:         c.Source.Path,
		SampleRate:   c.Run.SampleRate,
		FFmpegPath:   c.Source.FFmpegPath,
		FFprobePath:  c.Source.FFprobePath,
		FramePattern: c.Source.FramePattern,
		FPS:          c.Source.FPS,
	}, nil
}

// ToSliceConfig converts the tiling settings.
func (c *Config) ToSliceConfig() detector.SliceConfig {
	cfg := detector.DefaultSliceConfig()
	cfg.TileSize = c.Detector.TileSize
	cfg.Overlap = c.Detector.TileOverlap
	cfg.IoUThreshold = c.Detector.NMSIoU
	if c.Detector.BatchChunk > 0 {
		cfg.BatchSize = c.Detector.BatchChunk
	}
	return cfg
}

// ToEngineConfig converts the feature window and cliff settings.
func (c *Config) ToEngineConfig() features.EngineConfig {
	return features.EngineConfig{
		TeamSize:     c.Run.TeamSize,
		Lookback:     c.Run.Lookback,
		Lookahead:    c.Run.Lookahead,
		Cliff:        c.Cliff,
		HistoryLimit: features.DefaultHistoryLimit,
	}
}

// ToGPUConfig converts the GPU section for the ONNX session.
func (c *Config) ToGPUConfig() onnx.GPUConfig {
	limit, _ := parseMemoryLimit(c.GPU.MemoryLimit)
	return onnx.GPUConfig{
		UseGPU:      c.GPU.Enabled,
		DeviceID:    c.GPU.Device,
		GPUMemLimit: limit,
	}
}

// ToDetectorConfig converts the detector section, loading the class names
// file when one is set.
func (c *Config) ToDetectorConfig() (detector.Config, error) {
	cfg := detector.DefaultConfig()
	cfg.ModelPath = c.Detector.ModelPath
	cfg.LibraryPath = c.Detector.LibraryPath
	cfg.InputSize = c.Detector.InputSize
	cfg.MinConfidence = c.Detector.MinConfidence
	cfg.TargetClass = c.Detector.TargetClass
	cfg.NMSThreshold = c.Detector.NMSIoU
	cfg.NumThreads = c.Detector.NumThreads
	cfg.GPU = c.ToGPUConfig()
	if c.Detector.ClassNamesFile != "" {
		names, err := detector.LoadClassNames(c.Detector.ClassNamesFile)
		if err != nil {
			return detector.Config{}, err
		}
		cfg.ClassNames = names
	}
	return cfg, nil
}

// DetectorFactory returns a factory creating one ONNX detector per worker.
func (c *Config) DetectorFactory() (pipeline.DetectorFactory, error) {
	cfg, err := c.ToDetectorConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("detector.model_path is not set")
	}
	return func() (detector.Detector, error) {
		return detector.NewYOLODetector(cfg)
	}, nil
}

// ToPipelineConfig builds the run configuration. The source opener and the
// crop regions are resolved here; newDetector is supplied by the caller.
func (c *Config) ToPipelineConfig(newDetector pipeline.DetectorFactory) (pipeline.Config, error) {
	opts, err := c.ToSourceOptions()
	if err != nil {
		return pipeline.Config{}, err
	}
	open, err := source.NewOpener(opts)
	if err != nil {
		return pipeline.Config{}, err
	}
	if c.Run.RegionsFile == "" {
		return pipeline.Config{}, errors.New("run.regions_file is not set")
	}
	regions, err := artifacts.LoadRegions(c.Run.RegionsFile)
	if err != nil {
		return pipeline.Config{}, err
	}

	return pipeline.Config{
		Source:          c.Source.Path,
		SourceKind:      opts.Kind.String(),
		Open:            open,
		Regions:         regions,
		NewDetector:     newDetector,
		Slice:           c.ToSliceConfig(),
		TargetRegions:   slices.Clone(c.Detector.Regions),
		MinConfidence:   c.Detector.MinConfidence,
		TargetClass:     c.Detector.TargetClass,
		OutputDir:       c.Run.OutputDir,
		SampleRate:      c.Run.SampleRate,
		Engine:          c.ToEngineConfig(),
		Readers:         c.Pipeline.Readers,
		Croppers:        c.Pipeline.Croppers,
		Detectors:       c.Pipeline.Detectors,
		ChunkSize:       c.Pipeline.ChunkSize,
		MaxReorderDepth: c.Pipeline.MaxReorderDepth,
		EnhanceContrast: c.Pipeline.EnhanceContrast,
		StopOnStageLoss: c.Pipeline.StopOnStageLoss,
		FlushTimeout:    time.Duration(c.Pipeline.FlushTimeoutSec) * time.Second,
		SaveCrops:       c.Run.SaveCrops,
		Annotate:        c.Run.Annotate,
		SnapshotEvery:   c.Run.SnapshotEvery,
	}, nil
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit parses limits such as "1GB" or "512MB" into bytes.
// "auto" and the empty string mean unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(limit))
	// Longest suffixes first so "MB" is not read as "B".
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, errors.New("memory limit must end with one of: B, KB, MB, GB")
}
