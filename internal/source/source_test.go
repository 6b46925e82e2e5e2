package source

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitToFrame(t *testing.T) {
	assert.Equal(t, 0, UnitToFrame(0, 29.97, 1))
	assert.Equal(t, 30, UnitToFrame(1, 29.97, 1))
	// Drift free: unit 1000 at 29.97fps is frame 29970, not 1000*30.
	assert.Equal(t, 29970, UnitToFrame(1000, 29.97, 1))
	assert.Equal(t, 15, UnitToFrame(1, 30, 2))
	assert.Equal(t, 7, UnitToFrame(7, 30, 0))
}

func TestUnitCount(t *testing.T) {
	assert.Equal(t, 100, UnitCount(3000, 30, 1))
	assert.Equal(t, 1, UnitCount(10, 30, 1), "never less than one")
	assert.Equal(t, 200, UnitCount(3000, 30, 2))
	assert.Equal(t, 5, UnitCount(5, 0, 1))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("FFmpeg")
	require.NoError(t, err)
	assert.Equal(t, KindFFmpeg, k)
	assert.Equal(t, "ffmpeg", k.String())

	k, err = ParseKind("frames")
	require.NoError(t, err)
	assert.Equal(t, KindFrames, k)

	_, err = ParseKind("opencv")
	assert.Error(t, err)
}

func TestNewOpener_Validates(t *testing.T) {
	_, err := NewOpener(Options{Kind: KindFrames, SampleRate: 1})
	assert.Error(t, err)
	_, err = NewOpener(Options{Kind: KindFrames, Path: "x", SampleRate: 0})
	assert.Error(t, err)
	_, err = NewOpener(Options{Kind: Kind(99), Path: "x", SampleRate: 1})
	assert.Error(t, err)
}

func writeSequence(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := range n {
		img := imaging.New(8, 4, color.NRGBA{uint8(i * 10), 0, 0, 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("frame_%d.png", i))))
	}
	return dir
}

func TestFramesSource(t *testing.T) {
	dir := writeSequence(t, 12)
	opener, err := NewOpener(Options{Kind: KindFrames, Path: dir, FramePattern: "*.png", FPS: 2, SampleRate: 1})
	require.NoError(t, err)
	src, err := opener()
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 6, src.UnitCount())
	assert.InDelta(t, 2.0, src.SourceFPS(), 1e-9)

	// Unit 5 maps to frame 10, which sorts after frame_9 despite the name.
	img, err := src.ReadUnit(context.Background(), 5)
	require.NoError(t, err)
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(100), r>>8)

	_, err = src.ReadUnit(context.Background(), 6)
	assert.ErrorIs(t, err, ErrEndOfStream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.ReadUnit(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenFrames_Errors(t *testing.T) {
	_, err := OpenFrames(Options{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	_, err = OpenFrames(Options{Path: t.TempDir()})
	assert.Error(t, err)
}

func TestParseProbe(t *testing.T) {
	info, err := ParseProbe([]byte(`{"streams":[{"width":1920,"height":1080,"avg_frame_rate":"30000/1001","nb_frames":"600"}],"format":{"duration":"20.02"}}`))
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 600, info.Frames)

	info, err = ParseProbe([]byte(`{"streams":[{"width":640,"height":360,"avg_frame_rate":"0/0"}],"format":{"duration":"10"}}`))
	require.NoError(t, err)
	assert.InDelta(t, DefaultFPS, info.FPS, 1e-9)
	assert.Equal(t, 300, info.Frames, "estimated from duration")

	_, err = ParseProbe([]byte(`{"streams":[]}`))
	assert.Error(t, err)
	_, err = ParseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestRGB24ToImage(t *testing.T) {
	img, err := rgb24ToImage([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{4, 5, 6, 255}, img.NRGBAAt(1, 0))

	_, err = rgb24ToImage([]byte{1, 2}, 2, 1)
	assert.Error(t, err)
}

func TestFFmpegDecodeArgs(t *testing.T) {
	s := &FFmpegSource{path: "game.mp4", ffmpeg: "ffmpeg", info: ProbeInfo{FPS: 25}, sampleRate: 1}
	require.NoError(t, s.Seek(50))
	args := s.decodeArgs()
	assert.Contains(t, args, "2.000000")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}
