package support

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/disintegration/imaging"
)

// Match is a synthetic recording on disk: one PNG per sampled unit, a
// regions file with left, field and right crops, and a config file that
// points the frames backend at it.
type Match struct {
	Dir     string
	Frames  string
	Regions string
	Config  string
	Output  string
	Units   int
}

// writeMatch renders a single point into dir. Both teams line up for the
// first half of the units and the field is played for the second half.
func writeMatch(dir string, units int) (*Match, error) {
	m := &Match{
		Dir:     dir,
		Frames:  filepath.Join(dir, "frames"),
		Regions: filepath.Join(dir, "regions.yaml"),
		Config:  filepath.Join(dir, "endzone.yaml"),
		Output:  filepath.Join(dir, "out"),
		Units:   units,
	}
	if err := testutil.EnsureDir(m.Frames); err != nil {
		return nil, err
	}
	for i, l := range testutil.PointScript(units/2, units) {
		path := filepath.Join(m.Frames, fmt.Sprintf("frame_%05d.png", i))
		if err := imaging.Save(testutil.FieldFrame(l), path); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", path, err)
		}
	}
	if err := artifacts.SaveRegions(m.Regions, artifacts.RegionsFile{Crops: testutil.FieldRegions()}); err != nil {
		return nil, err
	}

	config := fmt.Sprintf(`log_level: warn
source:
  kind: frames
  path: %s
  frame_pattern: "*.png"
  fps: 1
run:
  regions_file: %s
  output_dir: %s
`, m.Frames, m.Regions, m.Output)
	if err := os.WriteFile(m.Config, []byte(config), 0o600); err != nil {
		return nil, err
	}
	return m, nil
}
