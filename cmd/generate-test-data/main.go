package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"
)

// matchFixture describes a generated synthetic match.
type matchFixture struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Frames      string `json:"frames"`
	Regions     string `json:"regions"`
	Units       int    `json:"units"`
	// PointStarts are the first pulled unit of every point.
	PointStarts []int `json:"point_starts"`
}

func main() {
	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir  = flag.String("out", "testdata/match", "output directory, relative to the project root")
		points  = flag.Int("points", 3, "number of points in the match")
		ready   = flag.Int("ready", 30, "units both teams hold the line before each pull")
		pulled  = flag.Int("pulled", 30, "units of play after each pull")
		verbose = flag.Bool("v", false, "Verbose output")
		help    = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate a synthetic match for endzone demos and tests.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # Three points of 60 units\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -points 10 -ready 40\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}
	if *points < 1 || *ready < 1 || *pulled < 1 {
		slog.Error("points, ready and pulled must be positive")
		os.Exit(2)
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	if *verbose {
		slog.Info("Project root", "path", root)
	}

	dir := filepath.Join(root, *outDir)
	fixture, err := generateMatch(dir, *points, *ready, *pulled)
	if err != nil {
		slog.Error("Failed to generate match", "error", err)
		os.Exit(1)
	}
	slog.Info("Generated synthetic match", "dir", dir, "units", fixture.Units, "point_starts", fixture.PointStarts)
}

// generateMatch writes frames, regions files, a frames-backend config and
// the fixture description into dir.
func generateMatch(dir string, points, ready, pulled int) (matchFixture, error) {
	framesDir := filepath.Join(dir, "frames")
	if err := testutil.EnsureDir(framesDir); err != nil {
		return matchFixture{}, fmt.Errorf("failed to create frames directory: %w", err)
	}

	var (
		script []testutil.Lineup
		starts []int
	)
	for range points {
		starts = append(starts, len(script)+ready)
		script = append(script, testutil.PointScript(ready, ready+pulled)...)
	}
	for i, l := range script {
		path := filepath.Join(framesDir, fmt.Sprintf("frame_%05d.png", i))
		if err := imaging.Save(testutil.FieldFrame(l), path); err != nil {
			return matchFixture{}, fmt.Errorf("failed to save %s: %w", path, err)
		}
	}

	regions := filepath.Join(dir, "regions.yaml")
	if err := artifacts.SaveRegions(regions, artifacts.RegionsFile{Crops: testutil.FieldRegions()}); err != nil {
		return matchFixture{}, err
	}
	overview := artifacts.RegionsFile{Crops: []artifacts.CropRegion{testutil.OverviewRegion()}}
	if err := artifacts.SaveRegions(filepath.Join(dir, "regions_overview.json"), overview); err != nil {
		return matchFixture{}, err
	}

	if err := writeConfig(filepath.Join(dir, "endzone.yaml"), framesDir, regions, filepath.Join(dir, "output")); err != nil {
		return matchFixture{}, err
	}

	fixture := matchFixture{
		Name:        "synthetic_match",
		Description: fmt.Sprintf("%d points, %d ready and %d pulled units each", points, ready, pulled),
		Frames:      framesDir,
		Regions:     regions,
		Units:       len(script),
		PointStarts: starts,
	}
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return matchFixture{}, err
	}
	return fixture, os.WriteFile(filepath.Join(dir, "fixture.json"), data, 0o600)
}

func writeConfig(path, frames, regions, output string) error {
	cfg := map[string]any{
		"source": map[string]any{
			"kind":          "frames",
			"path":          frames,
			"frame_pattern": "*.png",
			"fps":           1,
		},
		"run": map[string]any{
			"regions_file": regions,
			"output_dir":   output,
			"team_size":    3,
		},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
