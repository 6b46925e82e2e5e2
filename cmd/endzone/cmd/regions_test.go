package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionsValidate(t *testing.T) {
	f := newFixture(t, 2)

	out, err := execute(t, "regions", "validate", f.regions)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 3 crops (left, field, right)")

	// Falls back to run.regions_file.
	out, err = execute(t, "regions", "validate", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 3 crops")
}

func TestRegionsValidate_Broken(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "regions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crops: []\n"), 0o600))

	_, err := execute(t, "regions", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no crops")

	_, err = execute(t, "regions", "validate", filepath.Join(dir, "regions.txt"))
	assert.Error(t, err)
}

func TestRegionsShow(t *testing.T) {
	f := newFixture(t, 2)

	out, err := execute(t, "regions", "show", f.regions, "--padding", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "left\n")
	assert.Contains(t, out, "bbox:      x=0.000 y=0.000 w=0.300 h=1.000")
	assert.Contains(t, out, "suggested: x=0.700 y=0.000 w=0.300 h=1.000 (padding 0.000)")
	assert.Contains(t, out, "polygon:   4 points, effective 4 points")
}
