// Package source provides decoded frames for sampled units of a video.
//
// A FrameSource is owned by exactly one reader worker; workers open their own
// session through an Opener so decoder state is never shared.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
)

// ErrEndOfStream is returned when a unit lies beyond the decodable end of the
// source, which may come before the advertised unit count.
var ErrEndOfStream = errors.New("end of stream")

// DefaultFPS is assumed when a source does not report its frame rate.
const DefaultFPS = 30.0

// FrameSource decodes the frame for a sampled unit id.
type FrameSource interface {
	// UnitCount is the number of sampled units the source advertises.
	UnitCount() int
	// SourceFPS is the native frame rate of the source.
	SourceFPS() float64
	// Seek positions the source at an absolute frame index.
	Seek(frame int) error
	// ReadUnit decodes the frame for unit id.
	ReadUnit(ctx context.Context, id int) (image.Image, error)
	Close() error
}

// Opener creates a fresh, exclusive FrameSource session.
type Opener func() (FrameSource, error)

// UnitToFrame maps a unit id to an absolute frame index. Each unit is
// computed independently so rounding never accumulates.
func UnitToFrame(id int, fps, sampleRate float64) int {
	if sampleRate <= 0 {
		return id
	}
	return int(math.Round(float64(id) * fps / sampleRate))
}

// UnitCount is the number of units obtained by sampling frames at
// sampleRate units per second, never less than one.
func UnitCount(frames int, fps, sampleRate float64) int {
	if fps <= 0 || sampleRate <= 0 {
		return max(frames, 1)
	}
	return max(int(math.Floor(float64(frames)*sampleRate/fps)), 1)
}

// Kind selects a frame source backend.
type Kind int

const (
	KindFFmpeg Kind = iota + 1
	KindFrames
)

// String returns the config name of the backend.
func (k Kind) String() string {
	switch k {
	case KindFFmpeg:
		return "ffmpeg"
	case KindFrames:
		return "frames"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind resolves a config name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ffmpeg", "":
		return KindFFmpeg, nil
	case "frames":
		return KindFrames, nil
	default:
		return 0, fmt.Errorf("unknown source kind %q (want ffmpeg or frames)", s)
	}
}

// Options configures a backend.
type Options struct {
	Kind       Kind
	Path       string
	SampleRate float64

	// FFmpegPath and FFprobePath locate the binaries for KindFFmpeg.
	FFmpegPath  string
	FFprobePath string

	// FramePattern is the glob matched inside Path for KindFrames.
	FramePattern string
	// FPS is the frame rate assumed for KindFrames.
	FPS float64
}

// NewOpener validates opts once and returns an Opener for the backend.
func NewOpener(opts Options) (Opener, error) {
	if opts.Path == "" {
		return nil, errors.New("source path is empty")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", opts.SampleRate)
	}
	switch opts.Kind {
	case KindFFmpeg:
		return func() (FrameSource, error) {
			s, err := OpenFFmpeg(opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	case KindFrames:
		return func() (FrameSource, error) {
			s, err := OpenFrames(opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported source kind %v", opts.Kind)
	}
}
