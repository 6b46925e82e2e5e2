package testutil

import (
	"testing"

	"github.com/MeKo-Tech/endzone/internal/source"
	"github.com/stretchr/testify/require"
)

// FramesOpener opens the PNG frames in dir at one unit per frame.
func FramesOpener(t testing.TB, dir string) source.Opener {
	t.Helper()
	open, err := source.NewOpener(source.Options{
		Kind:         source.KindFrames,
		Path:         dir,
		FramePattern: "*.png",
		FPS:          1,
		SampleRate:   1,
	})
	require.NoError(t, err)
	return open
}
