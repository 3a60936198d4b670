package queue

import (
	"errors"
	"time"
)

// ChunkTask represents one audio chunk waiting for transcription
type ChunkTask struct {
	ChunkID     string    `json:"chunk_id"`
	RecordingID string    `json:"recording_id"`
	Sequence    int       `json:"sequence"`
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	Duration    float64   `json:"duration"`
	MimeType    string    `json:"mime_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate rejects tasks that cannot be processed. Workers drop invalid
// tasks instead of requeueing them.
func (t *ChunkTask) Validate() error {
	if t.ChunkID == "" {
		return errors.New("chunk task missing chunk_id")
	}
	if t.RecordingID == "" {
		return errors.New("chunk task missing recording_id")
	}
	if t.ObjectKey == "" {
		return errors.New("chunk task missing object_key")
	}
	return nil
}
