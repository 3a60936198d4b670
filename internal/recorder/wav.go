package recorder

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// seeks back to patch the header on Close.
type wavBuffer struct {
	data []byte
	pos  int
}

func (w *wavBuffer) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.data) {
		grown := make([]byte, need)
		copy(grown, w.data)
		w.data = grown
	}
	copy(w.data[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *wavBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = w.pos + int(offset)
	case io.SeekEnd:
		next = len(w.data) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	w.pos = next
	return int64(next), nil
}

func (w *wavBuffer) Bytes() []byte {
	return w.data
}

// encodeWAV renders interleaved int16 PCM samples as a 16-bit WAV file
func encodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	buf := &wavBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, 16, channels, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	ab := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(ab); err != nil {
		return nil, fmt.Errorf("failed to encode wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav header: %w", err)
	}

	return buf.Bytes(), nil
}
