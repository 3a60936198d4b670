package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// RecordingStatus represents the lifecycle state of a recording
type RecordingStatus string

const (
	RecordingStatusPending    RecordingStatus = "pending"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// ChunkStatus represents the processing state of a single audio chunk
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

// Recording sources
const (
	SourceMicrophone = "microphone"
	SourceSystem     = "system"
	SourceUpload     = "upload"
)

// MaxChunkAttempts is the requeue cap for transient chunk failures
const MaxChunkAttempts = 3

// JSONB represents a JSONB field for PostgreSQL
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Recording represents one capture session and its assembled transcript
type Recording struct {
	ID              string          `json:"id" db:"id"`
	Source          string          `json:"source" db:"source"`
	Status          RecordingStatus `json:"status" db:"status"`
	Duration        float64         `json:"duration" db:"duration"`
	Transcript      *string         `json:"transcript,omitempty" db:"transcript"`
	ErrorText       *string         `json:"error,omitempty" db:"error_text"`
	TotalChunks     int             `json:"total_chunks" db:"total_chunks"`
	ProcessedChunks int             `json:"processed_chunks" db:"processed_chunks"`
	FailedChunks    int             `json:"failed_chunks" db:"failed_chunks"`
	Meta            JSONB           `json:"meta,omitempty" db:"meta"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// AudioChunk represents one bounded segment of a recording
type AudioChunk struct {
	ID          string      `json:"id" db:"id"`
	RecordingID string      `json:"recording_id" db:"recording_id"`
	Sequence    int         `json:"sequence" db:"sequence"`
	ObjectKey   string      `json:"object_key" db:"object_key"`
	SizeBytes   int64       `json:"size_bytes" db:"size_bytes"`
	Duration    float64     `json:"duration" db:"duration"`
	Status      ChunkStatus `json:"status" db:"status"`
	Attempts    int         `json:"attempts" db:"attempts"`
	ErrorText   *string     `json:"error,omitempty" db:"error_text"`
	CapturedAt  time.Time   `json:"captured_at" db:"captured_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Transcript represents the transcribed text of one chunk
type Transcript struct {
	ID          string          `json:"id" db:"id"`
	RecordingID string          `json:"recording_id" db:"recording_id"`
	ChunkID     string          `json:"chunk_id" db:"chunk_id"`
	Text        string          `json:"text" db:"text"`
	RawResponse json.RawMessage `json:"raw_response,omitempty" db:"raw_response"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// IsTerminal returns true if the recording is in a final state
func (r *Recording) IsTerminal() bool {
	return r.Status == RecordingStatusCompleted || r.Status == RecordingStatusFailed
}

// SetProcessing moves the recording out of pending or a settled state
func (r *Recording) SetProcessing() {
	r.Status = RecordingStatusProcessing
	r.UpdatedAt = time.Now()
}

// SetCompleted stores the assembled transcript and marks the recording done
func (r *Recording) SetCompleted(transcript string) {
	r.Status = RecordingStatusCompleted
	r.Transcript = &transcript
	r.UpdatedAt = time.Now()
}

// SetFailed marks the recording failed with an error message
func (r *Recording) SetFailed(errorText string) {
	r.Status = RecordingStatusFailed
	r.ErrorText = &errorText
	r.UpdatedAt = time.Now()
}

// IsTerminal returns true if the chunk is in a final state
func (c *AudioChunk) IsTerminal() bool {
	return c.Status == ChunkStatusCompleted || c.Status == ChunkStatusFailed
}

// CanRetry returns true if the chunk may be requeued after a transient failure
func (c *AudioChunk) CanRetry() bool {
	return c.Attempts < MaxChunkAttempts
}

// IncrementAttempts increases the attempt counter
func (c *AudioChunk) IncrementAttempts() {
	c.Attempts++
}

// SetProcessing marks the chunk as picked up by a worker
func (c *AudioChunk) SetProcessing() {
	c.Status = ChunkStatusProcessing
	c.UpdatedAt = time.Now()
}

// SetCompleted marks the chunk transcribed
func (c *AudioChunk) SetCompleted() {
	c.Status = ChunkStatusCompleted
	c.UpdatedAt = time.Now()
}

// SetFailed marks the chunk failed with an error message
func (c *AudioChunk) SetFailed(errorText string) {
	c.Status = ChunkStatusFailed
	c.ErrorText = &errorText
	c.UpdatedAt = time.Now()
}
