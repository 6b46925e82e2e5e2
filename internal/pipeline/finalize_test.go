package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDetections(t *testing.T, dir string) []DetectedFrame {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, artifacts.DetectionsFile))
	require.NoError(t, err)
	var out []DetectedFrame
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFinalizeStage_Run(t *testing.T) {
	dir := t.TempDir()
	in := make(chan DetectedFrame, 5)
	for i := range 5 {
		in <- detectUnit(t, i, testutil.ReadyLineup(), testutil.FieldRegions())
	}
	close(in)

	seen := 0
	s := &FinalizeStage{
		OutputDir:     dir,
		SnapshotEvery: 2,
		In:            in,
		State:         NewProcessingState("r", 5),
		OnUnit:        func(DetectedFrame) { seen++ },
	}
	require.NoError(t, s.Run())

	assert.Equal(t, 5, seen)
	assert.True(t, s.State.IsComplete())
	assert.False(t, s.State.IsActive())

	got := readDetections(t, dir)
	require.Len(t, got, 5)
	assert.Equal(t, 4, got[4].ID)
	require.Len(t, got[0].Results, 3)
	assert.Len(t, got[0].Results[0].Detections, 3)
	assert.False(t, testutil.DirExists(filepath.Join(dir, artifacts.CropsDir)))
}

func TestFinalizeStage_EmptyStream(t *testing.T) {
	dir := t.TempDir()
	in := make(chan DetectedFrame)
	close(in)

	s := &FinalizeStage{OutputDir: dir, In: in, State: NewProcessingState("r", 0)}
	require.NoError(t, s.Run())

	data, err := os.ReadFile(filepath.Join(dir, artifacts.DetectionsFile))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
	assert.True(t, s.State.IsComplete())
}

func TestFinalizeStage_WritesImages(t *testing.T) {
	dir := t.TempDir()
	in := make(chan DetectedFrame, 1)
	in <- detectUnit(t, 12, testutil.ReadyLineup(), testutil.FieldRegions())
	close(in)

	s := &FinalizeStage{OutputDir: dir, SaveCrops: true, Annotate: true, In: in, State: NewProcessingState("r", 1)}
	require.NoError(t, s.Run())

	for _, region := range []string{"left", "field", "right"} {
		name := artifacts.CropImageName(12, region)
		assert.True(t, testutil.FileExists(filepath.Join(dir, artifacts.CropsDir, name)), name)
		assert.True(t, testutil.FileExists(filepath.Join(dir, artifacts.AnnotatedDir, name)), name)
	}
}

func TestFinalizeStage_FinalWriteFailure(t *testing.T) {
	// A regular file where the output directory should be.
	dir := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o600))

	in := make(chan DetectedFrame)
	close(in)
	s := &FinalizeStage{OutputDir: dir, In: in, State: NewProcessingState("r", 0)}
	assert.Error(t, s.Run())
	assert.True(t, s.State.IsComplete())
}
