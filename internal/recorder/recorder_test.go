package recorder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"voscribe/internal/capture"
	"voscribe/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init(true)
}

type readResult struct {
	frame []int16
	err   error
}

// stubStream feeds scripted frames and drains all queued frames before
// honoring cancellation, which keeps the tests deterministic.
type stubStream struct {
	ch       chan readResult
	rate     int
	channels int
	reads    atomic.Int32
	closes   atomic.Int32
}

func newStubStream() *stubStream {
	return &stubStream{ch: make(chan readResult, 64), rate: 16000, channels: 1}
}

func (s *stubStream) Read(ctx context.Context) ([]int16, error) {
	select {
	case r := <-s.ch:
		s.reads.Add(1)
		return r.frame, r.err
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-s.ch:
		s.reads.Add(1)
		return r.frame, r.err
	}
}

func (s *stubStream) SampleRate() int { return s.rate }
func (s *stubStream) Channels() int   { return s.channels }
func (s *stubStream) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *stubStream) push(n int) {
	s.ch <- readResult{frame: make([]int16, n)}
}

func (s *stubStream) pushErr(err error) {
	s.ch <- readResult{err: err}
}

func (s *stubStream) waitReads(t *testing.T, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.reads.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d reads, got %d", n, s.reads.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

type stubSource struct {
	stream  *stubStream
	openErr error
	opens   atomic.Int32
}

func (s *stubSource) Probe(ctx context.Context) (capture.DeviceInfo, error) {
	return capture.DeviceInfo{Name: "stub"}, nil
}

func (s *stubSource) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	s.opens.Add(1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

func newTestRecorder(opts Options) (*Recorder, *stubStream) {
	stream := newStubStream()
	return New(&stubSource{stream: stream}, opts), stream
}

// drainUntilStopped collects events in the background until the session ends
func drainUntilStopped(r *Recorder) <-chan []Event {
	out := make(chan []Event, 1)
	go func() {
		var events []Event
		deadline := time.After(5 * time.Second)
		for {
			select {
			case e := <-r.Events():
				events = append(events, e)
				if e.Type == EventStopped {
					out <- events
					return
				}
			case <-deadline:
				out <- events
				return
			}
		}
	}()
	return out
}

func chunksOf(events []Event) []*Chunk {
	var chunks []*Chunk
	for _, e := range events {
		if e.Type == EventChunk {
			chunks = append(chunks, e.Chunk)
		}
	}
	return chunks
}

func TestRecorder_StopWithoutData_EmitsNoChunk(t *testing.T) {
	r, _ := newTestRecorder(Options{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)
	require.NoError(t, r.Stop(ctx))

	events := <-collected
	require.NotEmpty(t, events)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventStopped, events[len(events)-1].Type)
	assert.Empty(t, chunksOf(events))
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_StopFlushesPartialChunk(t *testing.T) {
	r, stream := newTestRecorder(Options{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	stream.push(1000)
	stream.waitReads(t, 1)
	require.NoError(t, r.Stop(ctx))

	chunks := chunksOf(<-collected)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Sequence)
	assert.InDelta(t, 1000.0/16000.0, chunks[0].Duration, 1e-9)
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestRecorder_SegmentBoundary_SplitsWithoutLoss(t *testing.T) {
	// 1600 samples at 16 kHz = 100 ms segments
	r, stream := newTestRecorder(Options{SegmentDuration: 100 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	// 2048 samples cross one boundary; 448 remain buffered
	stream.push(1024)
	stream.push(1024)
	stream.waitReads(t, 2)
	require.NoError(t, r.Stop(ctx))

	chunks := chunksOf(<-collected)
	require.Len(t, chunks, 2)
	assert.InDelta(t, 0.1, chunks[0].Duration, 1e-9)
	assert.InDelta(t, 448.0/16000.0, chunks[1].Duration, 1e-9)

	total := chunks[0].Duration + chunks[1].Duration
	assert.InDelta(t, 2048.0/16000.0, total, 1e-9)
}

func TestRecorder_ChunksOrderedAndStrictlyIncreasing(t *testing.T) {
	// segment of exactly one frame
	r, stream := newTestRecorder(Options{SegmentDuration: 64 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	for i := 0; i < 5; i++ {
		stream.push(1024)
	}
	stream.waitReads(t, 5)
	require.NoError(t, r.Stop(ctx))

	chunks := chunksOf(<-collected)
	require.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
		if i > 0 {
			assert.True(t, c.CapturedAt.After(chunks[i-1].CapturedAt),
				"chunk %d captured_at must be strictly after chunk %d", i, i-1)
		}
	}
}

func TestRecorder_SecondStartFails(t *testing.T) {
	r, _ := newTestRecorder(Options{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	err := r.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, StateRecording, r.State())

	require.NoError(t, r.Stop(ctx))
	<-collected
}

func TestRecorder_StopWithoutSession(t *testing.T) {
	r, _ := newTestRecorder(Options{})
	assert.ErrorIs(t, r.Stop(context.Background()), ErrNotRecording)
}

func TestRecorder_OpenFailureLeavesIdle(t *testing.T) {
	devErr := &capture.DeviceError{Kind: capture.ErrKindNoDevice}
	r := New(&stubSource{openErr: devErr}, Options{})

	err := r.Start(context.Background())
	require.Error(t, err)

	var de *capture.DeviceError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, StateIdle, r.State())

	// the recorder stays usable
	assert.ErrorIs(t, r.Stop(context.Background()), ErrNotRecording)
}

func TestRecorder_CaptureErrorEndsSessionRecoverably(t *testing.T) {
	r, stream := newTestRecorder(Options{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	stream.push(500)
	stream.pushErr(&capture.DeviceError{Kind: capture.ErrKindDeviceBusy})

	events := <-collected
	chunks := chunksOf(events)
	require.Len(t, chunks, 1, "buffered audio is flushed before the error")

	var sawError bool
	for _, e := range events {
		if e.Type == EventError {
			sawError = true
			var de *capture.DeviceError
			assert.True(t, errors.As(e.Err, &de))
		}
	}
	assert.True(t, sawError)
	assert.Equal(t, EventStopped, events[len(events)-1].Type)
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, int32(1), stream.closes.Load())

	// session can be started again after the failure
	require.NoError(t, r.Start(ctx))
	collected = drainUntilStopped(r)
	require.NoError(t, r.Stop(ctx))
	<-collected
}

func TestRecorder_AbortDiscardsPartialBuffer(t *testing.T) {
	r, stream := newTestRecorder(Options{})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	stream.push(2000)
	stream.waitReads(t, 1)
	require.NoError(t, r.Abort(ctx))

	events := <-collected
	assert.Empty(t, chunksOf(events))
	assert.Equal(t, EventStopped, events[len(events)-1].Type)
}

func TestRecorder_ArchivesChunksToOutputDir(t *testing.T) {
	dir := t.TempDir()
	r, stream := newTestRecorder(Options{OutputDir: dir})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	collected := drainUntilStopped(r)

	stream.push(1024)
	stream.waitReads(t, 1)
	require.NoError(t, r.Stop(ctx))

	chunks := chunksOf(<-collected)
	require.Len(t, chunks, 1)
	require.NotEmpty(t, chunks[0].Path)
	assert.FileExists(t, chunks[0].Path)
}
