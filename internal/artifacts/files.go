// Package artifacts writes the files a run leaves behind: the feature and
// point CSVs, detection snapshots, run metadata, crop images and the run
// regions document.
package artifacts

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// Standard file names inside a run output directory.
const (
	FeaturesFile   = "features.csv"
	PointsFile     = "points.csv"
	DetectionsFile = "detections.json"
	MetadataFile   = "metadata.json"
	CropsDir       = "crops"
	AnnotatedDir   = "annotated"
)

// JPEGQuality is used for crop and annotation images.
const JPEGQuality = 90

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteJSON encodes v and writes it atomically. Pretty output is indented.
func WriteJSON(path string, v any, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}

// Metadata describes a run; written once when the run starts.
type Metadata struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	SourceKind string    `json:"source_kind"`
	SampleRate float64   `json:"sample_rate"`
	TeamSize   int       `json:"team_size"`
	TotalUnits int       `json:"total_units"`
	SourceFPS  float64   `json:"source_fps"`
	Crops      []string  `json:"crops"`
	CreatedAt  time.Time `json:"created_at"`
	Version    string    `json:"version,omitempty"`
}

// WriteMetadata stores m as metadata.json in dir.
func WriteMetadata(dir string, m Metadata) error {
	return WriteJSON(filepath.Join(dir, MetadataFile), m, true)
}

// CropImageName is the file name of a saved crop or annotation.
func CropImageName(unit int, region string) string {
	return fmt.Sprintf("unit_%d_%s.jpg", unit, region)
}

// SaveJPEG encodes img as JPEG at path, creating parent directories.
func SaveJPEG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
