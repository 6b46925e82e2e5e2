package source

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultFramePattern matches the numbered images of an extracted sequence.
const DefaultFramePattern = "*.jpg"

// FramesSource reads a directory of numbered still images, one per frame.
type FramesSource struct {
	files      []string
	fps        float64
	sampleRate float64
	pos        int
}

// OpenFrames lists opts.Path for opts.FramePattern and sorts the matches by
// name.
func OpenFrames(opts Options) (*FramesSource, error) {
	info, err := os.Stat(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open frames: %s is not a directory", opts.Path)
	}
	pattern := opts.FramePattern
	if pattern == "" {
		pattern = DefaultFramePattern
	}
	files, err := filepath.Glob(filepath.Join(opts.Path, pattern))
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("open frames: no files match %s in %s", pattern, opts.Path)
	}
	sort.Slice(files, func(i, j int) bool {
		a, b := filepath.Base(files[i]), filepath.Base(files[j])
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return strings.Compare(a, b) < 0
	})
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &FramesSource{files: files, fps: fps, sampleRate: opts.SampleRate}, nil
}

// UnitCount implements FrameSource.
func (s *FramesSource) UnitCount() int { return UnitCount(len(s.files), s.fps, s.sampleRate) }

// SourceFPS implements FrameSource.
func (s *FramesSource) SourceFPS() float64 { return s.fps }

// Seek implements FrameSource.
func (s *FramesSource) Seek(frame int) error {
	if frame < 0 {
		return fmt.Errorf("seek to negative frame %d", frame)
	}
	s.pos = frame
	return nil
}

// ReadUnit implements FrameSource.
func (s *FramesSource) ReadUnit(ctx context.Context, id int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Seek(UnitToFrame(id, s.fps, s.sampleRate)); err != nil {
		return nil, err
	}
	if s.pos >= len(s.files) {
		return nil, ErrEndOfStream
	}
	img, err := imaging.Open(s.files[s.pos])
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", s.pos, err)
	}
	return img, nil
}

// Close implements FrameSource.
func (s *FramesSource) Close() error { return nil }
