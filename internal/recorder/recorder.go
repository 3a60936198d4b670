// Package recorder turns one continuous capture session into an ordered
// sequence of bounded-duration WAV chunks. Segment boundaries are measured
// in accumulated audio duration, so behavior is identical for live and
// synthetic sources.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"voscribe/internal/capture"
	"voscribe/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State represents the recorder session state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// DefaultSegmentDuration bounds chunk length unless configured otherwise
const DefaultSegmentDuration = 8 * time.Minute

// Chunk is one finalized segment of the active session
type Chunk struct {
	Sequence   int
	Data       []byte
	Duration   float64
	SampleRate int
	Channels   int
	CapturedAt time.Time
	Path       string
}

// Options configures a recorder
type Options struct {
	SegmentDuration time.Duration
	Constraints     capture.Constraints
	// OutputDir archives every chunk as a local WAV file when set.
	// Archive failures are logged, not fatal to the session.
	OutputDir   string
	EventBuffer int
}

// Recorder owns at most one active capture session at a time.
// Events must be drained by the caller while a session is active.
type Recorder struct {
	source capture.Source
	opts   Options
	events chan Event

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	discard bool
}

func New(source capture.Source, opts Options) *Recorder {
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = DefaultSegmentDuration
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	if opts.Constraints.SampleRate <= 0 {
		opts.Constraints.SampleRate = capture.DefaultConstraints().SampleRate
	}
	if opts.Constraints.Channels <= 0 {
		opts.Constraints.Channels = 1
	}

	return &Recorder{
		source: source,
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
		state:  StateIdle,
	}
}

// Events returns the channel carrying session lifecycle events
func (r *Recorder) Events() <-chan Event {
	return r.events
}

// State returns the current session state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the capture stream and begins a session.
// A second Start while a session is active fails with ErrAlreadyRecording
// and leaves the running session untouched.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.state = StateRecording
	r.mu.Unlock()

	stream, err := r.source.Open(ctx, r.opts.Constraints)
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.discard = false
	done := r.done
	r.mu.Unlock()

	go r.loop(loopCtx, stream, done)

	r.emit(Event{Type: EventStarted})
	logger.Info("Recording started",
		zap.Int("sample_rate", stream.SampleRate()),
		zap.Int("channels", stream.Channels()),
		zap.Duration("segment", r.opts.SegmentDuration))

	return nil
}

// Stop ends the session, flushing any buffered audio as a final chunk.
// A stop with zero buffered samples emits no chunk.
func (r *Recorder) Stop(ctx context.Context) error {
	return r.halt(ctx, false)
}

// Abort ends the session and discards the partial buffer
func (r *Recorder) Abort(ctx context.Context) error {
	return r.halt(ctx, true)
}

func (r *Recorder) halt(ctx context.Context, discard bool) error {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.state = StateStopping
	r.discard = discard
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop(ctx context.Context, stream capture.Stream, done chan struct{}) {
	rate := stream.SampleRate()
	channels := stream.Channels()
	segmentSamples := int(r.opts.SegmentDuration.Seconds()*float64(rate)) * channels
	sessionTag := uuid.New().String()[:8]

	var buf []int16
	seq := 0
	var lastCaptured time.Time

	emitSegment := func(samples []int16) {
		chunk, err := r.finalizeChunk(samples, rate, channels, seq, sessionTag, &lastCaptured)
		if err != nil {
			r.emit(Event{Type: EventError, Err: err})
			return
		}
		r.emit(Event{Type: EventChunk, Chunk: chunk})
		seq++
	}

	for {
		frame, err := stream.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			// Capture failure ends the session but keeps buffered audio
			if len(buf) > 0 {
				emitSegment(buf)
				buf = nil
			}
			r.emit(Event{Type: EventError, Err: err})
			break
		}

		buf = append(buf, frame...)

		// A frame may straddle the boundary; the remainder seeds the next chunk
		for len(buf) >= segmentSamples {
			emitSegment(buf[:segmentSamples])
			buf = buf[segmentSamples:]
		}
	}

	stream.Close()

	r.mu.Lock()
	discard := r.discard
	r.mu.Unlock()

	if !discard && len(buf) > 0 {
		emitSegment(buf)
	}

	r.emit(Event{Type: EventStopped})
	logger.Info("Recording stopped", zap.Int("chunks", seq), zap.Bool("discarded", discard))

	r.mu.Lock()
	r.state = StateIdle
	r.cancel = nil
	r.mu.Unlock()

	close(done)
}

func (r *Recorder) finalizeChunk(samples []int16, rate, channels, seq int, tag string, last *time.Time) (*Chunk, error) {
	data, err := encodeWAV(samples, rate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize chunk %d: %w", seq, err)
	}

	frames := len(samples) / channels
	duration := float64(frames) / float64(rate)

	capturedAt := time.Now()
	if !capturedAt.After(*last) {
		capturedAt = last.Add(time.Microsecond)
	}
	*last = capturedAt

	chunk := &Chunk{
		Sequence:   seq,
		Data:       data,
		Duration:   duration,
		SampleRate: rate,
		Channels:   channels,
		CapturedAt: capturedAt,
	}

	if r.opts.OutputDir != "" {
		name := fmt.Sprintf("chunk-%s-%s-%04d.wav", capturedAt.Format("2006-01-02-15.04.05"), tag, seq)
		path := filepath.Join(r.opts.OutputDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Warn("Failed to archive chunk locally", zap.String("path", path), zap.Error(err))
		} else {
			chunk.Path = path
		}
	}

	logger.Debug("Chunk finalized",
		zap.Int("sequence", seq),
		zap.Float64("duration", duration),
		zap.Int("size", len(data)))

	return chunk, nil
}

func (r *Recorder) emit(e Event) {
	r.events <- e
}
