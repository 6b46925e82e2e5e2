package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "endzone"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "ENDZONE"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, so flags bound by
// the root command take part in resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithoutValidation is Load without the validation step. Used by
// commands that only display or write configuration.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.LoadWithFileWithoutValidation("")
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// Without an explicit file a missing config is fine: defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// source.kind -> ENDZONE_SOURCE_KIND
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options. Every key
// needs a default so AutomaticEnv can resolve it during Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)
	l.v.SetDefault("log_file", d.LogFile)
	l.v.SetDefault("log_max_age_days", d.LogMaxAgeDays)

	l.v.SetDefault("source.kind", d.Source.Kind)
	l.v.SetDefault("source.path", d.Source.Path)
	l.v.SetDefault("source.ffmpeg_path", d.Source.FFmpegPath)
	l.v.SetDefault("source.ffprobe_path", d.Source.FFprobePath)
	l.v.SetDefault("source.frame_pattern", d.Source.FramePattern)
	l.v.SetDefault("source.fps", d.Source.FPS)

	l.v.SetDefault("run.sample_rate", d.Run.SampleRate)
	l.v.SetDefault("run.team_size", d.Run.TeamSize)
	l.v.SetDefault("run.output_dir", d.Run.OutputDir)
	l.v.SetDefault("run.regions_file", d.Run.RegionsFile)
	l.v.SetDefault("run.lookback", d.Run.Lookback)
	l.v.SetDefault("run.lookahead", d.Run.Lookahead)
	l.v.SetDefault("run.save_crops", d.Run.SaveCrops)
	l.v.SetDefault("run.annotate", d.Run.Annotate)
	l.v.SetDefault("run.snapshot_every", d.Run.SnapshotEvery)

	l.v.SetDefault("cliff.min_drop", d.Cliff.MinDrop)
	l.v.SetDefault("cliff.min_prepoint_duration", d.Cliff.MinPrepointDuration)
	l.v.SetDefault("cliff.min_post_duration", d.Cliff.MinPostDuration)
	l.v.SetDefault("cliff.max_post_score", d.Cliff.MaxPostScore)
	l.v.SetDefault("cliff.absolute_threshold", d.Cliff.AbsoluteThreshold)
	l.v.SetDefault("cliff.min_gap", d.Cliff.MinGap)
	l.v.SetDefault("cliff.smoothing_window", d.Cliff.SmoothingWindow)

	l.v.SetDefault("pipeline.readers", d.Pipeline.Readers)
	l.v.SetDefault("pipeline.croppers", d.Pipeline.Croppers)
	l.v.SetDefault("pipeline.detectors", d.Pipeline.Detectors)
	l.v.SetDefault("pipeline.chunk_size", d.Pipeline.ChunkSize)
	l.v.SetDefault("pipeline.max_reorder_depth", d.Pipeline.MaxReorderDepth)
	l.v.SetDefault("pipeline.enhance_contrast", d.Pipeline.EnhanceContrast)
	l.v.SetDefault("pipeline.stop_on_stage_loss", d.Pipeline.StopOnStageLoss)
	l.v.SetDefault("pipeline.flush_timeout_sec", d.Pipeline.FlushTimeoutSec)

	l.v.SetDefault("detector.model_path", d.Detector.ModelPath)
	l.v.SetDefault("detector.library_path", d.Detector.LibraryPath)
	l.v.SetDefault("detector.input_size", d.Detector.InputSize)
	l.v.SetDefault("detector.min_confidence", d.Detector.MinConfidence)
	l.v.SetDefault("detector.target_class", d.Detector.TargetClass)
	l.v.SetDefault("detector.class_names_file", d.Detector.ClassNamesFile)
	l.v.SetDefault("detector.num_threads", d.Detector.NumThreads)
	l.v.SetDefault("detector.batch_chunk", d.Detector.BatchChunk)
	l.v.SetDefault("detector.regions", d.Detector.Regions)
	l.v.SetDefault("detector.tile_size", d.Detector.TileSize)
	l.v.SetDefault("detector.tile_overlap", d.Detector.TileOverlap)
	l.v.SetDefault("detector.nms_iou", d.Detector.NMSIoU)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", d.Server.RequestsPerHour)
	l.v.SetDefault("server.requests_per_day", d.Server.RequestsPerDay)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes a YAML file holding every default.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "endzone"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "endzone"))
	}

	return append(paths, "/etc/endzone")
}

// PrintConfigInfo writes where configuration was resolved from.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	used := l.GetConfigFileUsed()
	if used == "" {
		used = "(none, defaults and environment)"
	}
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", used)
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
