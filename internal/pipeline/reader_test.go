package pipeline

import (
	"context"
	"errors"
	"image"
	"sort"
	"testing"
	"time"

	"github.com/MeKo-Tech/endzone/internal/source"
	"github.com/MeKo-Tech/endzone/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource advertises units but ends at eos and fails to decode the ids
// in bad.
type fakeSource struct {
	units int
	eos   int
	bad   map[int]bool
}

func (s *fakeSource) UnitCount() int     { return s.units }
func (s *fakeSource) SourceFPS() float64 { return 25 }
func (s *fakeSource) Seek(int) error     { return nil }
func (s *fakeSource) Close() error       { return nil }

func (s *fakeSource) ReadUnit(ctx context.Context, id int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id >= s.eos {
		return nil, source.ErrEndOfStream
	}
	if s.bad[id] {
		return nil, errors.New("corrupt packet")
	}
	return testutil.FieldFrame(nil), nil
}

func fakeOpener(s *fakeSource) source.Opener {
	return func() (source.FrameSource, error) { return s, nil }
}

func drainIDs(ch chan RawFrame) []int {
	close(ch)
	var ids []int
	for f := range ch {
		ids = append(ids, f.ID)
	}
	sort.Ints(ids)
	return ids
}

func TestReadWorker_ReadsAllRanges(t *testing.T) {
	out := make(chan RawFrame, 20)
	w := &ReadWorker{
		Ranges: NewRangePool(20, 6),
		Open:   fakeOpener(&fakeSource{units: 20, eos: 20}),
		Out:    out,
		State:  NewProcessingState("r", 20),
	}
	require.NoError(t, w.Run(context.Background(), &Token{}))

	ids := drainIDs(out)
	require.Len(t, ids, 20)
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
	assert.EqualValues(t, 20, w.State.Snapshot().FramesRead)
}

func TestReadWorker_EndOfStreamCorrectsTotal(t *testing.T) {
	out := make(chan RawFrame, 30)
	w := &ReadWorker{
		Ranges: NewRangePool(30, 10),
		Open:   fakeOpener(&fakeSource{units: 30, eos: 13}),
		Out:    out,
		State:  NewProcessingState("r", 30),
	}
	require.NoError(t, w.Run(context.Background(), &Token{}))

	assert.Len(t, drainIDs(out), 13)
	assert.Equal(t, 13, w.State.Total())
	assert.True(t, w.State.TotalCorrected())
	assert.Zero(t, w.Ranges.Remaining())
}

func TestReadWorker_DecodeErrorAbandonsRange(t *testing.T) {
	out := make(chan RawFrame, 20)
	w := &ReadWorker{
		Ranges: NewRangePool(20, 10),
		Open:   fakeOpener(&fakeSource{units: 20, eos: 20, bad: map[int]bool{4: true}}),
		Out:    out,
		State:  NewProcessingState("r", 20),
	}
	require.NoError(t, w.Run(context.Background(), &Token{}))

	ids := drainIDs(out)
	assert.Equal(t, []int{0, 1, 2, 3, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, ids)
}

func TestReadWorker_RetiredHandsBackRange(t *testing.T) {
	out := make(chan RawFrame, 1)
	w := &ReadWorker{
		Ranges: NewRangePool(10, 10),
		Open:   fakeOpener(&fakeSource{units: 10, eos: 10}),
		Out:    out,
		State:  NewProcessingState("r", 10),
	}
	tok := &Token{}
	tok.retired.Store(true)
	require.NoError(t, w.Run(context.Background(), tok))
	assert.Equal(t, 10, w.Ranges.Remaining())

	w.State.Deactivate()
	require.NoError(t, w.Run(context.Background(), &Token{}))
	assert.Equal(t, 10, w.Ranges.Remaining())
}

func TestReadWorker_StopMidRange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan RawFrame)
	w := &ReadWorker{
		Ranges: NewRangePool(10, 10),
		Open:   fakeOpener(&fakeSource{units: 10, eos: 10}),
		Out:    out,
		State:  NewProcessingState("r", 10),
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, &Token{}) }()

	first := <-out
	assert.Equal(t, 0, first.ID)
	second := <-out
	assert.Equal(t, 1, second.ID)
	w.State.Deactivate()
	// Unit 2 may already be decoded and waiting; take it if so.
	go func() {
		for range out {
		}
	}()
	require.NoError(t, <-done)
	close(out)

	r, ok := w.Ranges.Pop()
	require.True(t, ok)
	assert.Equal(t, 10, r.End)
	assert.LessOrEqual(t, r.Start, 3)
	assert.GreaterOrEqual(t, r.Start, 2)
}

func TestReadWorker_OpenFailure(t *testing.T) {
	w := &ReadWorker{
		Ranges: NewRangePool(10, 10),
		Open:   func() (source.FrameSource, error) { return nil, errors.New("no such file") },
		State:  NewProcessingState("r", 10),
	}
	assert.ErrorContains(t, w.Run(context.Background(), &Token{}), "open source")
	assert.Equal(t, 10, w.Ranges.Remaining())
}

// gatedSource blocks ReadUnit on the ids in hold until their gate opens and
// signals each held id through reached.
type gatedSource struct {
	fakeSource
	hold    map[int]chan struct{}
	reached map[int]chan struct{}
}

func newGatedSource(units int, held ...int) *gatedSource {
	s := &gatedSource{
		fakeSource: fakeSource{units: units, eos: units},
		hold:       map[int]chan struct{}{},
		reached:    map[int]chan struct{}{},
	}
	for _, id := range held {
		s.hold[id] = make(chan struct{})
		s.reached[id] = make(chan struct{})
	}
	return s
}

func (s *gatedSource) ReadUnit(ctx context.Context, id int) (image.Image, error) {
	if gate, ok := s.hold[id]; ok {
		close(s.reached[id])
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.fakeSource.ReadUnit(ctx, id)
}

func (s *gatedSource) waitReached(t *testing.T, id int) {
	t.Helper()
	select {
	case <-s.reached[id]:
	case <-time.After(5 * time.Second):
		t.Fatalf("unit %d never reached", id)
	}
}

func TestReadWorker_ScaleDownKeepsHandedBackRange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newGatedSource(10, 2, 6)
	out := make(chan RawFrame, 16)
	w := &ReadWorker{
		Ranges: NewRangePool(10, 5),
		Open:   func() (source.FrameSource, error) { return src, nil },
		Out:    out,
		State:  NewProcessingState("r", 10),
	}
	p := NewPool(ctx, StageReader, w.Run, nil)
	p.SetPending(func() bool { return w.State.IsActive() && w.Ranges.Remaining() > 0 })

	p.Start(1)
	src.waitReached(t, 2)
	_, err := p.Scale(1)
	require.NoError(t, err)
	src.waitReached(t, 6)
	_, err = p.Scale(-1)
	require.NoError(t, err)

	// The first reader drains its range and finds the queue empty before
	// the retired one hands back the rest of [5,10).
	close(src.hold[2])
	require.Eventually(t, func() bool { return p.Active() == 1 }, 5*time.Second, time.Millisecond)
	assert.False(t, p.SealIfDrained())
	close(src.hold[6])

	require.Eventually(t, p.SealIfDrained, 5*time.Second, time.Millisecond)
	p.Wait()
	assert.Zero(t, w.Ranges.Remaining())
	ids := drainIDs(out)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)
	assert.EqualValues(t, 10, w.State.Snapshot().FramesRead)
}
