package capture

import (
	"context"
	"math"
	"time"
)

// SyntheticSource generates a 440 Hz sine tone instead of reading hardware.
// Deterministic output makes it suitable for development and tests.
type SyntheticSource struct {
	Rate     int
	Chans    int
	Freq     float64
	FrameLen int
	// Realtime paces Read calls at the frame duration. Tests leave it off
	// so hours of audio can be produced instantly.
	Realtime bool
}

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{
		Rate:     16000,
		Chans:    1,
		Freq:     440,
		FrameLen: 1024,
	}
}

func (s *SyntheticSource) Probe(ctx context.Context) (DeviceInfo, error) {
	return DeviceInfo{
		Name:       "synthetic-440hz",
		SampleRate: float64(s.Rate),
		Channels:   s.Chans,
	}, nil
}

func (s *SyntheticSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	rate := c.SampleRate
	if rate <= 0 {
		rate = s.Rate
	}
	channels := c.Channels
	if channels <= 0 {
		channels = s.Chans
	}

	return &syntheticStream{
		rate:     rate,
		channels: channels,
		freq:     s.Freq,
		frameLen: s.FrameLen,
		realtime: s.Realtime,
	}, nil
}

type syntheticStream struct {
	rate     int
	channels int
	freq     float64
	frameLen int
	realtime bool
	pos      int64
	closed   bool
}

func (s *syntheticStream) Read(ctx context.Context) ([]int16, error) {
	if s.closed {
		return nil, context.Canceled
	}

	if s.realtime {
		frameDur := time.Duration(s.frameLen) * time.Second / time.Duration(s.rate)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(frameDur):
		}
	} else {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	out := make([]int16, s.frameLen*s.channels)
	for i := 0; i < s.frameLen; i++ {
		t := float64(s.pos) / float64(s.rate)
		sample := int16(math.Sin(2*math.Pi*s.freq*t) * 32767)
		for ch := 0; ch < s.channels; ch++ {
			out[i*s.channels+ch] = sample
		}
		s.pos++
	}

	return out, nil
}

func (s *syntheticStream) SampleRate() int {
	return s.rate
}

func (s *syntheticStream) Channels() int {
	return s.channels
}

func (s *syntheticStream) Close() error {
	s.closed = true
	return nil
}
