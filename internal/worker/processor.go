// Package worker consumes chunk tasks, transcribes the audio and settles
// recording state once every chunk has a terminal outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"voscribe/internal/queue"
	"voscribe/internal/sarvam"
	"voscribe/internal/storage"
	"voscribe/pkg/cache"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"
	"voscribe/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Storage is the persistence surface the processor needs
type Storage interface {
	GetChunkByID(ctx context.Context, id string) (*model.AudioChunk, error)
	UpdateChunk(ctx context.Context, chunk *model.AudioChunk) error
	GetRecordingByID(ctx context.Context, id string) (*model.Recording, error)
	UpdateRecording(ctx context.Context, rec *model.Recording) error
	CreateTranscript(ctx context.Context, transcript *model.Transcript) error
	ListChunksByRecording(ctx context.Context, recordingID string) ([]*model.AudioChunk, error)
	ListTranscriptsByRecording(ctx context.Context, recordingID string) ([]*model.Transcript, error)
}

// ObjectStore fetches stored chunk audio
type ObjectStore interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Transcriber sends audio to the transcription provider
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*sarvam.TranscriptionResult, error)
}

// Notifier announces settled recordings
type Notifier interface {
	RecordingSettled(rec *model.Recording)
}

type Processor struct {
	db       Storage
	objects  ObjectStore
	stt      Transcriber
	cache    cache.Cache
	notifier Notifier
	retry    *resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewProcessor creates a worker processor. The notifier may be nil.
func NewProcessor(db Storage, objects ObjectStore, stt Transcriber, redisCache cache.Cache, notifier Notifier) *Processor {
	breaker := resilience.NewCircuitBreaker(5, 30*time.Second)
	breaker.OnStateChange = func(s resilience.State) {
		logger.Warn("Transcription circuit state changed", zap.Stringer("state", s))
	}

	return &Processor{
		db:       db,
		objects:  objects,
		stt:      stt,
		cache:    redisCache,
		notifier: notifier,
		retry:    resilience.DefaultRetryConfig(),
		breaker:  breaker,
	}
}

// ProcessChunkTask handles one queued chunk. A returned error requeues the
// message, so permanent failures are persisted here and swallowed.
func (p *Processor) ProcessChunkTask(ctx context.Context, taskData []byte) error {
	var task queue.ChunkTask
	if err := json.Unmarshal(taskData, &task); err != nil {
		logger.Error("Dropping malformed chunk task", zap.Error(err))
		return nil
	}
	if err := task.Validate(); err != nil {
		logger.Error("Dropping invalid chunk task", zap.Error(err))
		return nil
	}

	logger.Info("Processing chunk task",
		zap.String("chunk_id", task.ChunkID),
		zap.String("recording_id", task.RecordingID),
		zap.Int("sequence", task.Sequence))

	chunk, err := p.db.GetChunkByID(ctx, task.ChunkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Dropping task for unknown chunk", zap.String("chunk_id", task.ChunkID))
			return nil
		}
		return fmt.Errorf("failed to load chunk: %w", err)
	}

	// redelivery of an already settled chunk only re-runs the settle step
	if chunk.IsTerminal() {
		return p.settleRecording(ctx, chunk.RecordingID)
	}

	chunk.SetProcessing()
	chunk.IncrementAttempts()
	if err := p.db.UpdateChunk(ctx, chunk); err != nil {
		logger.Error("Failed to mark chunk processing", zap.Error(err), zap.String("chunk_id", chunk.ID))
	}

	audio, err := p.objects.Fetch(ctx, chunk.ObjectKey)
	if err != nil {
		return p.handleTransient(ctx, chunk, fmt.Sprintf("failed to fetch audio: %v", err), err)
	}

	result, err := p.transcribe(ctx, audio, chunk)
	if err != nil {
		errorMsg := fmt.Sprintf("transcription failed: %v", err)
		if !sarvam.IsTemporary(err) {
			return p.failChunk(ctx, chunk, errorMsg)
		}
		return p.handleTransient(ctx, chunk, errorMsg, err)
	}

	transcript := &model.Transcript{
		ID:          uuid.NewString(),
		RecordingID: chunk.RecordingID,
		ChunkID:     chunk.ID,
		Text:        result.Text,
		RawResponse: result.Raw,
		CreatedAt:   time.Now(),
	}
	if err := p.db.CreateTranscript(ctx, transcript); err != nil {
		return p.handleTransient(ctx, chunk, fmt.Sprintf("failed to save transcript: %v", err), err)
	}

	chunk.SetCompleted()
	if err := p.db.UpdateChunk(ctx, chunk); err != nil {
		return p.handleTransient(ctx, chunk, fmt.Sprintf("failed to mark chunk completed: %v", err), err)
	}

	logger.Info("Chunk transcribed",
		zap.String("chunk_id", chunk.ID),
		zap.String("recording_id", chunk.RecordingID),
		zap.Int("text_length", len(result.Text)))

	return p.settleRecording(ctx, chunk.RecordingID)
}

// transcribe calls the provider behind the circuit breaker, retrying
// temporary failures with backoff
func (p *Processor) transcribe(ctx context.Context, audio []byte, chunk *model.AudioChunk) (*sarvam.TranscriptionResult, error) {
	var result *sarvam.TranscriptionResult

	err := p.breaker.Execute(func() error {
		return resilience.RetryWithExponentialBackoff(ctx, p.retry, func() error {
			res, terr := p.stt.Transcribe(ctx, audio, path.Base(chunk.ObjectKey))
			if terr != nil {
				if !sarvam.IsTemporary(terr) {
					return resilience.Permanent(terr)
				}
				return terr
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// handleTransient requeues the chunk while attempts remain, then fails it
func (p *Processor) handleTransient(ctx context.Context, chunk *model.AudioChunk, errorMsg string, cause error) error {
	if chunk.CanRetry() {
		chunk.ErrorText = &errorMsg
		chunk.UpdatedAt = time.Now()
		if err := p.db.UpdateChunk(ctx, chunk); err != nil {
			logger.Error("Failed to persist chunk error", zap.Error(err), zap.String("chunk_id", chunk.ID))
		}

		logger.Warn("Chunk processing failed, requeueing",
			zap.String("chunk_id", chunk.ID),
			zap.Int("attempts", chunk.Attempts),
			zap.String("error", errorMsg))

		return cause
	}

	return p.failChunk(ctx, chunk, errorMsg)
}

// failChunk records a permanent failure and settles the recording
func (p *Processor) failChunk(ctx context.Context, chunk *model.AudioChunk, errorMsg string) error {
	logger.Error("Chunk failed permanently",
		zap.String("chunk_id", chunk.ID),
		zap.String("recording_id", chunk.RecordingID),
		zap.Int("attempts", chunk.Attempts),
		zap.String("error", errorMsg))

	chunk.SetFailed(errorMsg)
	if err := p.db.UpdateChunk(ctx, chunk); err != nil {
		return fmt.Errorf("failed to mark chunk failed: %w", err)
	}

	return p.settleRecording(ctx, chunk.RecordingID)
}

// settleRecording assembles the transcript once every chunk is terminal.
// Transcript parts are joined in sequence order, never arrival order.
func (p *Processor) settleRecording(ctx context.Context, recordingID string) error {
	chunks, err := p.db.ListChunksByRecording(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	failed := 0
	for _, c := range chunks {
		switch c.Status {
		case model.ChunkStatusFailed:
			failed++
		case model.ChunkStatusCompleted:
		default:
			// chunks still in flight, nothing to settle yet
			return nil
		}
	}

	rec, err := p.db.GetRecordingByID(ctx, recordingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Recording vanished before settling", zap.String("recording_id", recordingID))
			return nil
		}
		return fmt.Errorf("failed to load recording: %w", err)
	}

	prevStatus := rec.Status

	if failed == len(chunks) {
		rec.SetFailed(fmt.Sprintf("all %d chunks failed transcription", failed))
	} else {
		transcripts, err := p.db.ListTranscriptsByRecording(ctx, recordingID)
		if err != nil {
			return fmt.Errorf("failed to list transcripts: %w", err)
		}

		texts := make([]string, 0, len(transcripts))
		for _, t := range transcripts {
			if t.Text != "" {
				texts = append(texts, t.Text)
			}
		}

		rec.SetCompleted(strings.Join(texts, "\n"))
		if failed > 0 {
			note := fmt.Sprintf("%d of %d chunks failed transcription", failed, len(chunks))
			rec.ErrorText = &note
		}
	}

	// redelivered settle of an unchanged terminal state is a no-op
	if prevStatus == rec.Status && (prevStatus == model.RecordingStatusCompleted || prevStatus == model.RecordingStatusFailed) {
		return nil
	}

	if err := p.db.UpdateRecording(ctx, rec); err != nil {
		return fmt.Errorf("failed to update recording: %w", err)
	}

	cache.InvalidateRecording(ctx, p.cache, recordingID)

	if p.notifier != nil {
		p.notifier.RecordingSettled(rec)
	}

	logger.Info("Recording settled",
		zap.String("recording_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int("chunks", len(chunks)),
		zap.Int("failed", failed))

	return nil
}
