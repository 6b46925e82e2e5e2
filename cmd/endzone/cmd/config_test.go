package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "endzone.yaml")
	require.FileExists(t, filepath.Join(dir, "endzone.yaml"))

	_, err = execute(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--force")
	require.NoError(t, err)

	custom := filepath.Join(dir, "conf", "match.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(custom), 0o750))
	_, err = execute(t, "config", "init", custom)
	require.NoError(t, err)

	cfg, err := config.NewLoaderWithViper(viper.New()).LoadWithFile(custom)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Run, cfg.Run)
}

func TestConfigShow(t *testing.T) {
	f := newFixture(t, 4)
	out, err := execute(t, "config", "show", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "kind: frames")
	assert.Contains(t, out, "team_size: 7")
	assert.Contains(t, out, "Configuration file used: "+f.config)
	assert.Contains(t, out, "Validation: ok")
}

func TestConfigShow_Invalid(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  team_size: 0\n"), 0o600))

	out, err := execute(t, "config", "show", "--config", path)
	require.Error(t, err)
	assert.Contains(t, out, "Validation: ")
	assert.Contains(t, err.Error(), "team size")
}
