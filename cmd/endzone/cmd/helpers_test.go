package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/config"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args from a clean flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""
	globalConfig = nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	closeLog()
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// stubDetectors swaps the ONNX factory for the synthetic blob detector.
func stubDetectors(t *testing.T) {
	t.Helper()
	orig := detectorFactory
	detectorFactory = func(*config.Config) (pipeline.DetectorFactory, error) {
		return func() (detector.Detector, error) { return testutil.BlobDetector(), nil }, nil
	}
	t.Cleanup(func() { detectorFactory = orig })
}

// fixture is a working directory holding synthetic frames, a regions file
// and a config file pointing the frames backend at PNGs.
type fixture struct {
	dir     string
	frames  string
	regions string
	config  string
}

func newFixture(t *testing.T, units int) fixture {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	f := fixture{
		dir:     dir,
		frames:  testutil.WriteFrames(t, filepath.Join(dir, "frames"), testutil.PointScript(units/2, units)),
		regions: filepath.Join(dir, "regions.yaml"),
		config:  filepath.Join(dir, "endzone.yaml"),
	}
	require.NoError(t, artifacts.SaveRegions(f.regions, artifacts.RegionsFile{Crops: testutil.FieldRegions()}))
	require.NoError(t, os.WriteFile(f.config, []byte(`log_level: warn
source:
  kind: frames
  frame_pattern: "*.png"
  fps: 1
run:
  regions_file: `+f.regions+`
  output_dir: `+filepath.Join(dir, "out")+`
`), 0o600))
	return f
}
