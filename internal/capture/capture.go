// Package capture abstracts audio input sources. A Source hands out PCM
// streams; implementations cover the host microphone (PortAudio) and a
// deterministic synthetic tone for development and tests.
package capture

import "context"

// Constraints describes the desired capture parameters. Processing hints
// are best-effort: a host layer that cannot honor them ignores them.
type Constraints struct {
	SampleRate       int
	Channels         int
	DeviceName       string
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints returns the capture parameters used for speech input
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// DeviceInfo describes an available audio input device
type DeviceInfo struct {
	Name       string  `json:"name"`
	SampleRate float64 `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Default    bool    `json:"default"`
}

// Stream delivers PCM frames from an opened capture device.
// Read returns one frame buffer of interleaved int16 samples.
type Stream interface {
	Read(ctx context.Context) ([]int16, error)
	SampleRate() int
	Channels() int
	Close() error
}

// Source opens capture streams. Probe checks device availability without
// holding the device open.
type Source interface {
	Probe(ctx context.Context) (DeviceInfo, error)
	Open(ctx context.Context, c Constraints) (Stream, error)
}
