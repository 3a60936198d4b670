package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"voscribe/pkg/logger"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// framesPerBuffer is the PCM frame count requested per stream read
const framesPerBuffer = 1024

// PortAudioSource captures from the host microphone via PortAudio
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// Probe checks that an input device is present without opening it
func (s *PortAudioSource) Probe(ctx context.Context) (DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to initialize audio host: %w", err)
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return DeviceInfo{}, &DeviceError{Kind: ErrKindNoDevice, Err: err}
	}

	return DeviceInfo{
		Name:       dev.Name,
		SampleRate: dev.DefaultSampleRate,
		Channels:   dev.MaxInputChannels,
		Default:    true,
	}, nil
}

// Devices enumerates available audio input devices
func (s *PortAudioSource) Devices(ctx context.Context) ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio host: %w", err)
	}
	defer portaudio.Terminate()

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	defaultDev, _ := portaudio.DefaultInputDevice()

	var devices []DeviceInfo
	for _, dev := range all {
		if dev.MaxInputChannels == 0 {
			continue
		}
		devices = append(devices, DeviceInfo{
			Name:       dev.Name,
			SampleRate: dev.DefaultSampleRate,
			Channels:   dev.MaxInputChannels,
			Default:    defaultDev != nil && dev.Name == defaultDev.Name,
		})
	}

	if len(devices) == 0 {
		return nil, &DeviceError{Kind: ErrKindNoDevice}
	}

	return devices, nil
}

// Open starts a capture stream with the requested constraints.
// Echo cancellation and noise suppression hints are not supported by the
// host layer and are ignored.
func (s *PortAudioSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio host: %w", err)
	}

	dev, err := s.resolveDevice(c.DeviceName)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > dev.MaxInputChannels {
		channels = dev.MaxInputChannels
	}
	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = int(dev.DefaultSampleRate)
	}

	buf := make([]int16, framesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, classifyStreamError(err, dev.Name)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classifyStreamError(err, dev.Name)
	}

	logger.Info("Capture stream opened",
		zap.String("device", dev.Name),
		zap.Int("sample_rate", sampleRate),
		zap.Int("channels", channels))

	return &paStream{
		stream:     stream,
		buf:        buf,
		device:     dev.Name,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (s *PortAudioSource) resolveDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, &DeviceError{Kind: ErrKindNoDevice, Err: err}
		}
		return dev, nil
	}

	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, dev := range all {
		if dev.MaxInputChannels > 0 && strings.EqualFold(dev.Name, name) {
			return dev, nil
		}
	}

	return nil, &DeviceError{Kind: ErrKindNoDevice, Device: name}
}

// classifyStreamError maps host error text onto the device error taxonomy
func classifyStreamError(err error, device string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use") || strings.Contains(msg, "unavailable"):
		return &DeviceError{Kind: ErrKindDeviceBusy, Device: device, Err: err}
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "access"):
		return &DeviceError{Kind: ErrKindPermissionDenied, Device: device, Err: err}
	case strings.Contains(msg, "no device") || strings.Contains(msg, "invalid device"):
		return &DeviceError{Kind: ErrKindNoDevice, Device: device, Err: err}
	default:
		return fmt.Errorf("failed to open capture stream: %w", err)
	}
}

type paStream struct {
	stream     *portaudio.Stream
	buf        []int16
	device     string
	sampleRate int
	channels   int
	closeOnce  sync.Once
	closeErr   error
}

// Read blocks until one PCM frame buffer is available.
// The returned slice is a copy; the internal buffer is reused.
func (s *paStream) Read(ctx context.Context) ([]int16, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := s.stream.Read(); err != nil {
		return nil, classifyStreamError(err, s.device)
	}

	out := make([]int16, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *paStream) SampleRate() int {
	return s.sampleRate
}

func (s *paStream) Channels() int {
	return s.channels
}

func (s *paStream) Close() error {
	s.closeOnce.Do(func() {
		s.stream.Stop()
		s.closeErr = s.stream.Close()
		portaudio.Terminate()
	})
	return s.closeErr
}
