package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "endzone", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "point starts")
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "endzone "), out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "commit:")
}

func TestRootCommandSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, expected := range []string{"process", "serve", "config", "regions", "version"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	_, err := execute(t, "--no-such-flag")
	assert.Error(t, err)
}

func TestRootCommandMissingConfigFile(t *testing.T) {
	_, err := execute(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}

func TestInitConfig_FlagsOverrideFile(t *testing.T) {
	f := newFixture(t, 4)
	_, err := execute(t, "config", "show", "--config", f.config, "--log-level", "debug")
	require.NoError(t, err)

	cfg := GetConfig()
	assert.Equal(t, "debug", cfg.LogLevel, "flag beats file")
	assert.Equal(t, "frames", cfg.Source.Kind, "file beats default")
	assert.Equal(t, 7, cfg.Run.TeamSize, "default kept")
}

func TestInitConfig_Environment(t *testing.T) {
	f := newFixture(t, 4)
	t.Setenv("ENDZONE_RUN_TEAM_SIZE", "5")
	_, err := execute(t, "config", "show", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, 5, GetConfig().Run.TeamSize)
}

func TestSetupLogging_RotatingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.LogFile = filepath.Join(dir, "logs", "endzone.log")
	cfg.LogMaxAgeDays = 3

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout strings.Builder
	closer, err := setupLogging(&cfg, &stdout)
	require.NoError(t, err)
	require.NotNil(t, closer)
	t.Cleanup(func() { _ = closer.Close() })

	slog.Info("rotating log check")
	assert.Contains(t, stdout.String(), "rotating log check")

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotating log check")
}

func TestLogLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	for level, want := range map[string]string{"debug": "DEBUG", "info": "INFO", "warn": "WARN", "error": "ERROR", "bogus": "INFO"} {
		cfg.LogLevel = level
		assert.Equal(t, want, logLevel(&cfg).String(), level)
	}
	cfg.LogLevel = "error"
	cfg.Verbose = true
	assert.Equal(t, "DEBUG", logLevel(&cfg).String())
}
