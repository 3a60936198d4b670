package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"voscribe/internal/queue"
	"voscribe/internal/storage"
	"voscribe/pkg/cache"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	listLimit = 100
	cacheTTL  = 30 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "voscribe-api",
	})
}

// handleUpload accepts one audio chunk. Without a recording_id field a new
// recording is created; with one the chunk is appended and the recording
// re-opens for processing if it had already settled.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxUploadSize+1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "audio file too large")
			return
		}
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty audio file")
		return
	}
	if int64(len(data)) > s.cfg.HTTP.MaxUploadSize {
		respondError(w, http.StatusRequestEntityTooLarge, "audio file too large")
		return
	}

	contentType := sniffContentType(data, header.Header.Get("Content-Type"))
	if !isAudioContentType(contentType) {
		respondError(w, http.StatusUnsupportedMediaType, "unsupported media type: expected audio")
		return
	}

	now := time.Now()
	recordingID := r.FormValue("recording_id")
	isNew := recordingID == ""

	var rec *model.Recording
	var sequence int

	if isNew {
		source := r.FormValue("source")
		if source == "" {
			source = model.SourceUpload
		}
		rec = &model.Recording{
			ID:     uuid.NewString(),
			Source: source,
			Status: model.RecordingStatusPending,
			Meta: model.JSONB{
				"filename":     header.Filename,
				"content_type": contentType,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateRecording(ctx, rec); err != nil {
			logger.Error("Failed to create recording", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to store recording")
			return
		}
	} else {
		rec, err = s.store.GetRecordingByID(ctx, recordingID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				respondError(w, http.StatusNotFound, "recording not found")
				return
			}
			logger.Error("Failed to load recording", zap.Error(err), zap.String("recording_id", recordingID))
			respondError(w, http.StatusInternalServerError, "failed to load recording")
			return
		}
		sequence, err = s.store.NextChunkSequence(ctx, rec.ID)
		if err != nil {
			logger.Error("Failed to assign chunk sequence", zap.Error(err), zap.String("recording_id", rec.ID))
			respondError(w, http.StatusInternalServerError, "failed to assign chunk sequence")
			return
		}
	}

	chunkID := uuid.NewString()
	objectKey := s.objects.ChunkKey(rec.ID, sequence, chunkID)

	if err := s.objects.Put(ctx, objectKey, bytes.NewReader(data), contentType); err != nil {
		logger.Error("Failed to store audio object",
			zap.Error(err),
			zap.String("recording_id", rec.ID),
			zap.String("object_key", objectKey))
		respondError(w, http.StatusInternalServerError, "failed to store audio")
		return
	}

	chunk := &model.AudioChunk{
		ID:          chunkID,
		RecordingID: rec.ID,
		Sequence:    sequence,
		ObjectKey:   objectKey,
		SizeBytes:   int64(len(data)),
		Duration:    parseDuration(r.FormValue("duration")),
		Status:      model.ChunkStatusPending,
		CapturedAt:  parseCapturedAt(r.FormValue("captured_at"), now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateChunk(ctx, chunk); err != nil {
		logger.Error("Failed to create chunk", zap.Error(err), zap.String("recording_id", rec.ID))
		// the audio is already in object storage, drop it so a failed intake
		// leaves nothing behind
		if derr := s.objects.Delete(ctx, objectKey); derr != nil {
			logger.Warn("Failed to clean up audio object", zap.Error(derr), zap.String("object_key", objectKey))
		}
		respondError(w, http.StatusInternalServerError, "failed to store chunk")
		return
	}

	task := &queue.ChunkTask{
		ChunkID:     chunk.ID,
		RecordingID: rec.ID,
		Sequence:    chunk.Sequence,
		ObjectKey:   objectKey,
		SizeBytes:   chunk.SizeBytes,
		Duration:    chunk.Duration,
		MimeType:    contentType,
		CreatedAt:   now,
	}
	if err := s.q.PublishChunkTask(ctx, task); err != nil {
		logger.Error("Failed to publish chunk task", zap.Error(err), zap.String("chunk_id", chunk.ID))
		// a pending chunk that never reached the queue would block the
		// recording from ever settling
		chunk.SetFailed("failed to queue for transcription")
		if uerr := s.store.UpdateChunk(ctx, chunk); uerr != nil {
			logger.Warn("Failed to mark chunk failed", zap.Error(uerr), zap.String("chunk_id", chunk.ID))
		}
		respondError(w, http.StatusInternalServerError, "failed to queue chunk")
		return
	}

	if rec.Status != model.RecordingStatusProcessing {
		if err := s.store.UpdateRecordingStatus(ctx, rec.ID, model.RecordingStatusProcessing); err != nil {
			// the worker settles the status again once the chunk finishes
			logger.Warn("Failed to mark recording processing", zap.Error(err), zap.String("recording_id", rec.ID))
		}
	}

	cache.InvalidateRecording(ctx, s.cache, rec.ID)

	logger.Info("Chunk accepted",
		zap.String("recording_id", rec.ID),
		zap.String("chunk_id", chunk.ID),
		zap.Int("sequence", chunk.Sequence),
		zap.Int64("size_bytes", chunk.SizeBytes))

	respondJSON(w, http.StatusAccepted, map[string]string{
		"recording_id": rec.ID,
		"chunk_id":     chunk.ID,
		"status":       string(model.RecordingStatusProcessing),
	})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	var cached model.Recording
	err := s.cache.Get(ctx, cache.RecordingKey(id), &cached)
	if err == nil {
		respondJSON(w, http.StatusOK, &cached)
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("Cache read failed", zap.Error(err))
	}

	rec, err := s.store.GetRecordingByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "recording not found")
			return
		}
		logger.Error("Failed to load recording", zap.Error(err), zap.String("recording_id", id))
		respondError(w, http.StatusInternalServerError, "failed to load recording")
		return
	}

	if err := s.cache.SetWithTTL(ctx, cache.RecordingKey(id), rec, cacheTTL); err != nil {
		logger.Warn("Failed to cache recording", zap.Error(err))
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cached []*model.Recording
	err := s.cache.Get(ctx, cache.ListKey(), &cached)
	if err == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"recordings": cached})
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("Cache read failed", zap.Error(err))
	}

	recordings, err := s.store.ListRecordings(ctx, listLimit)
	if err != nil {
		logger.Error("Failed to list recordings", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}
	if recordings == nil {
		recordings = []*model.Recording{}
	}

	if err := s.cache.SetWithTTL(ctx, cache.ListKey(), recordings, cacheTTL); err != nil {
		logger.Warn("Failed to cache recording list", zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"recordings": recordings})
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	var cached []*model.AudioChunk
	err := s.cache.Get(ctx, cache.ChunksKey(id), &cached)
	if err == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"chunks": cached})
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("Cache read failed", zap.Error(err))
	}

	if _, err := s.store.GetRecordingByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "recording not found")
			return
		}
		logger.Error("Failed to load recording", zap.Error(err), zap.String("recording_id", id))
		respondError(w, http.StatusInternalServerError, "failed to load recording")
		return
	}

	chunks, err := s.store.ListChunksByRecording(ctx, id)
	if err != nil {
		logger.Error("Failed to list chunks", zap.Error(err), zap.String("recording_id", id))
		respondError(w, http.StatusInternalServerError, "failed to list chunks")
		return
	}
	if chunks == nil {
		chunks = []*model.AudioChunk{}
	}

	if err := s.cache.SetWithTTL(ctx, cache.ChunksKey(id), chunks, cacheTTL); err != nil {
		logger.Warn("Failed to cache chunk list", zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

// sniffContentType trusts a declared audio content type, otherwise sniffs
// the payload. Browser and CLI clients often send audio as octet-stream.
func sniffContentType(data []byte, declared string) string {
	if strings.HasPrefix(declared, "audio/") {
		return declared
	}
	return http.DetectContentType(data)
}

func isAudioContentType(contentType string) bool {
	if strings.HasPrefix(contentType, "audio/") {
		return true
	}
	switch contentType {
	case "application/ogg", "video/webm":
		return true
	}
	return false
}

func parseDuration(value string) float64 {
	if value == "" {
		return 0
	}
	d, err := strconv.ParseFloat(value, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func parseCapturedAt(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return fallback
	}
	return t
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
