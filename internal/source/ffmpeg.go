package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegSource decodes single frames by invoking the ffmpeg binary with an
// input seek, which keeps every read independent of the previous one.
type FFmpegSource struct {
	path       string
	ffmpeg     string
	info       ProbeInfo
	sampleRate float64
	pos        int
}

// ProbeInfo is what ffprobe reports about the first video stream.
type ProbeInfo struct {
	Width    int
	Height   int
	FPS      float64
	Frames   int
	Duration float64
}

// OpenFFmpeg probes opts.Path and prepares a decoder session.
func OpenFFmpeg(opts Options) (*FFmpegSource, error) {
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := opts.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	out, err := exec.Command(ffprobe, probeArgs(opts.Path)...).Output() //nolint:gosec // configured binary
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", opts.Path, err)
	}
	info, err := ParseProbe(out)
	if err != nil {
		return nil, err
	}
	return &FFmpegSource{path: opts.Path, ffmpeg: ffmpeg, info: info, sampleRate: opts.SampleRate}, nil
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,nb_frames:format=duration",
		"-of", "json",
		path,
	}
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbe decodes ffprobe JSON output. A missing frame count is estimated
// from duration and frame rate; an unknown frame rate falls back to
// DefaultFPS.
func ParseProbe(data []byte) (ProbeInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return ProbeInfo{}, fmt.Errorf("no video stream found")
	}
	st := p.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return ProbeInfo{}, fmt.Errorf("invalid video size %dx%d", st.Width, st.Height)
	}
	info := ProbeInfo{Width: st.Width, Height: st.Height, FPS: parseRate(st.AvgFrameRate)}
	if info.FPS <= 0 {
		info.FPS = DefaultFPS
	}
	info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)
	info.Frames, _ = strconv.Atoi(st.NbFrames)
	if info.Frames <= 0 {
		info.Frames = int(math.Round(info.Duration * info.FPS))
	}
	return info, nil
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Info returns the probed stream properties.
func (s *FFmpegSource) Info() ProbeInfo { return s.info }

// UnitCount implements FrameSource.
func (s *FFmpegSource) UnitCount() int { return UnitCount(s.info.Frames, s.info.FPS, s.sampleRate) }

// SourceFPS implements FrameSource.
func (s *FFmpegSource) SourceFPS() float64 { return s.info.FPS }

// Seek implements FrameSource.
func (s *FFmpegSource) Seek(frame int) error {
	if frame < 0 {
		return fmt.Errorf("seek to negative frame %d", frame)
	}
	s.pos = frame
	return nil
}

// ReadUnit implements FrameSource.
func (s *FFmpegSource) ReadUnit(ctx context.Context, id int) (image.Image, error) {
	if err := s.Seek(UnitToFrame(id, s.info.FPS, s.sampleRate)); err != nil {
		return nil, err
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpeg, s.decodeArgs()...) //nolint:gosec // configured binary
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("decode frame %d: %w: %s", s.pos, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, ErrEndOfStream
	}
	return rgb24ToImage(stdout.Bytes(), s.info.Width, s.info.Height)
}

func (s *FFmpegSource) decodeArgs() []string {
	ts := float64(s.pos) / s.info.FPS
	return []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(ts, 'f', 6, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

func rgb24ToImage(buf []byte, w, h int) (*image.NRGBA, error) {
	if len(buf) != w*h*3 {
		return nil, fmt.Errorf("short frame: got %d bytes, want %d", len(buf), w*h*3)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// Close implements FrameSource.
func (s *FFmpegSource) Close() error { return nil }
