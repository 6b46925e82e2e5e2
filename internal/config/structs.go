//nolint:lll
package config

import "github.com/MeKo-Tech/endzone/internal/features"

// Config represents the complete configuration for endzone.
// It is shared by the process and serve commands and supports loading from
// configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel      string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose       bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" yaml:"log_max_age_days" json:"log_max_age_days"`

	// Frame source
	Source SourceConfig `mapstructure:"source" yaml:"source" json:"source"`

	// Per-run settings
	Run RunConfig `mapstructure:"run" yaml:"run" json:"run"`

	// Point-start detection tuning
	Cliff features.CliffConfig `mapstructure:"cliff" yaml:"cliff" json:"cliff"`

	// Worker pools and stage behavior
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Person detector
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// SourceConfig selects and configures the frame backend.
type SourceConfig struct {
	Kind         string  `mapstructure:"kind" yaml:"kind" json:"kind"`
	Path         string  `mapstructure:"path" yaml:"path" json:"path"`
	FFmpegPath   string  `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath  string  `mapstructure:"ffprobe_path" yaml:"ffprobe_path" json:"ffprobe_path"`
	FramePattern string  `mapstructure:"frame_pattern" yaml:"frame_pattern" json:"frame_pattern"`
	FPS          float64 `mapstructure:"fps" yaml:"fps" json:"fps"`
}

// RunConfig contains the sampling, feature window and output settings of a run.
type RunConfig struct {
	SampleRate    float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	TeamSize      int     `mapstructure:"team_size" yaml:"team_size" json:"team_size"`
	OutputDir     string  `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	RegionsFile   string  `mapstructure:"regions_file" yaml:"regions_file" json:"regions_file"`
	Lookback      int     `mapstructure:"lookback" yaml:"lookback" json:"lookback"`
	Lookahead     int     `mapstructure:"lookahead" yaml:"lookahead" json:"lookahead"`
	SaveCrops     bool    `mapstructure:"save_crops" yaml:"save_crops" json:"save_crops"`
	Annotate      bool    `mapstructure:"annotate" yaml:"annotate" json:"annotate"`
	SnapshotEvery int     `mapstructure:"snapshot_every" yaml:"snapshot_every" json:"snapshot_every"`
}

// PipelineConfig contains worker pool settings.
type PipelineConfig struct {
	Readers         int  `mapstructure:"readers" yaml:"readers" json:"readers"`
	Croppers        int  `mapstructure:"croppers" yaml:"croppers" json:"croppers"`
	Detectors       int  `mapstructure:"detectors" yaml:"detectors" json:"detectors"`
	ChunkSize       int  `mapstructure:"chunk_size" yaml:"chunk_size" json:"chunk_size"`
	MaxReorderDepth int  `mapstructure:"max_reorder_depth" yaml:"max_reorder_depth" json:"max_reorder_depth"`
	EnhanceContrast bool `mapstructure:"enhance_contrast" yaml:"enhance_contrast" json:"enhance_contrast"`
	StopOnStageLoss bool `mapstructure:"stop_on_stage_loss" yaml:"stop_on_stage_loss" json:"stop_on_stage_loss"`
	FlushTimeoutSec int  `mapstructure:"flush_timeout_sec" yaml:"flush_timeout_sec" json:"flush_timeout_sec"`
}

// DetectorConfig contains person detection settings.
type DetectorConfig struct {
	ModelPath      string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath    string   `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	InputSize      int      `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	MinConfidence  float64  `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	TargetClass    string   `mapstructure:"target_class" yaml:"target_class" json:"target_class"`
	ClassNamesFile string   `mapstructure:"class_names_file" yaml:"class_names_file" json:"class_names_file"`
	NumThreads     int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	BatchChunk     int      `mapstructure:"batch_chunk" yaml:"batch_chunk" json:"batch_chunk"`
	Regions        []string `mapstructure:"regions" yaml:"regions" json:"regions"`
	TileSize       int      `mapstructure:"tile_size" yaml:"tile_size" json:"tile_size"`
	TileOverlap    float64  `mapstructure:"tile_overlap" yaml:"tile_overlap" json:"tile_overlap"`
	NMSIoU         float64  `mapstructure:"nms_iou" yaml:"nms_iou" json:"nms_iou"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Control request limits per client; zero disables a limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int `mapstructure:"requests_per_day" yaml:"requests_per_day" json:"requests_per_day"`
}
