package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/endzone/internal/config"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

const defaultLogMaxAge = 7 * 24 * time.Hour

// setupLogging installs the default JSON logger on stdout, tee'd into a
// daily rotated file when log_file is set. The returned closer is nil
// without a log file.
func setupLogging(cfg *config.Config, stdout io.Writer) (io.Closer, error) {
	level := logLevel(cfg)

	var (
		out    = stdout
		closer io.Closer
	)
	if cfg.LogFile != "" {
		w, err := newRotatingWriter(cfg.LogFile, cfg.LogMaxAgeDays)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(stdout, w)
		closer = w
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return closer, nil
}

// logLevel maps the configured level; verbose forces debug.
func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newRotatingWriter writes to path.YYYYMMDD with path linked to the current
// file.
func newRotatingWriter(path string, maxAgeDays int) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	maxAge := defaultLogMaxAge
	if maxAgeDays > 0 {
		maxAge = time.Duration(maxAgeDays) * 24 * time.Hour
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open rotating log %s: %w", path, err)
	}
	return w, nil
}
