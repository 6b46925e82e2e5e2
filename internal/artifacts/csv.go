package artifacts

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

var (
	featuresHeader = []string{"id", "left", "right", "field", "score", "is_cliff"}
	pointsHeader   = []string{"id", "is_cliff", "left_emptied_first", "right_emptied_first"}
)

// FeatureRow is one line of features.csv.
type FeatureRow struct {
	ID      int
	Left    float64
	Right   float64
	Field   float64
	Score   float64
	IsCliff bool
}

// PointRow is one line of points.csv.
type PointRow struct {
	ID                int
	LeftEmptiedFirst  bool
	RightEmptiedFirst bool
}

// CSVLog is an append-only CSV file flushed after every row, so the file
// on disk is always a valid prefix of the run.
type CSVLog struct {
	f *os.File
	w *csv.Writer
}

func createCSV(path string, header []string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path) //nolint:gosec // run output path
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	l := &CSVLog{f: f, w: csv.NewWriter(f)}
	if err := l.write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *CSVLog) write(record []string) error {
	if err := l.w.Write(record); err != nil {
		return fmt.Errorf("write %s: %w", l.f.Name(), err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", l.f.Name(), err)
	}
	return nil
}

// Close flushes and closes the file.
func (l *CSVLog) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// FeatureLog writes features.csv.
type FeatureLog struct{ *CSVLog }

// CreateFeatureLog truncates dir/features.csv and writes its header.
func CreateFeatureLog(dir string) (*FeatureLog, error) {
	l, err := createCSV(filepath.Join(dir, FeaturesFile), featuresHeader)
	if err != nil {
		return nil, err
	}
	return &FeatureLog{l}, nil
}

// Append writes one feature row.
func (l *FeatureLog) Append(r FeatureRow) error {
	return l.write([]string{
		strconv.Itoa(r.ID),
		fmt3(r.Left),
		fmt3(r.Right),
		fmt3(r.Field),
		fmt3(r.Score),
		flag(r.IsCliff),
	})
}

// PointLog writes points.csv.
type PointLog struct{ *CSVLog }

// CreatePointLog truncates dir/points.csv and writes its header.
func CreatePointLog(dir string) (*PointLog, error) {
	l, err := createCSV(filepath.Join(dir, PointsFile), pointsHeader)
	if err != nil {
		return nil, err
	}
	return &PointLog{l}, nil
}

// Append writes one cliff row.
func (l *PointLog) Append(r PointRow) error {
	return l.write([]string{
		strconv.Itoa(r.ID),
		"1",
		flag(r.LeftEmptiedFirst),
		flag(r.RightEmptiedFirst),
	})
}

func fmt3(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
