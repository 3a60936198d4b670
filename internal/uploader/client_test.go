package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"
	"voscribe/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init(true)
}

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:     4,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Retry:   fastRetry(),
	})
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:8080/"})

	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.Equal(t, int64(DefaultMaxFileSize), client.maxFileSize)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.Equal(t, 4, client.retry.MaxAttempts)
	assert.Equal(t, 1*time.Second, client.retry.InitialInterval)
}

func TestUploadChunk_Success(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/recordings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(32<<20))

		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "chunk-0003.wav", header.Filename)
		assert.Equal(t, "3", r.FormValue("sequence"))
		assert.Equal(t, "2.5", r.FormValue("duration"))
		assert.Equal(t, model.SourceMicrophone, r.FormValue("source"))
		assert.Empty(t, r.FormValue("recording_id"))

		_, err = time.Parse(time.RFC3339Nano, r.FormValue("captured_at"))
		assert.NoError(t, err)

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"recording_id": "rec-1", "chunk_id": "chk-1", "status": "processing"}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	result, err := client.UploadChunk(context.Background(), "", Chunk{
		Data:       []byte("fake wav bytes"),
		Source:     model.SourceMicrophone,
		Sequence:   3,
		Duration:   2.5,
		CapturedAt: time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, "rec-1", result.RecordingID)
	assert.Equal(t, "chk-1", result.ChunkID)
	assert.Equal(t, "processing", result.Status)
	assert.Equal(t, int32(1), requests.Load())
}

func TestUploadChunk_AppendToExistingRecording(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "rec-1", r.FormValue("recording_id"))

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"recording_id": "rec-1", "chunk_id": "chk-2", "status": "processing"}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	result, err := client.UploadChunk(context.Background(), "rec-1", Chunk{
		Data:     []byte("more audio"),
		Sequence: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, "chk-2", result.ChunkID)
}

func TestUploadChunk_RetriesServerErrorsUntilExhausted(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.UploadChunk(context.Background(), "", Chunk{Data: []byte("audio")})

	require.Error(t, err)
	assert.Equal(t, int32(4), requests.Load())

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindMaxAttempts, ue.Kind)
	assert.Equal(t, 4, ue.Attempts)
	assert.Contains(t, err.Error(), "max attempts exceeded (4)")
}

func TestUploadChunk_RecoversAfterServerError(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"recording_id": "rec-1", "chunk_id": "chk-1", "status": "processing"}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	result, err := client.UploadChunk(context.Background(), "", Chunk{Data: []byte("audio")})

	require.NoError(t, err)
	assert.Equal(t, "rec-1", result.RecordingID)
	assert.Equal(t, int32(3), requests.Load())
}

func TestUploadChunk_ClientErrorsFailWithoutRetry(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"bad request", http.StatusBadRequest, ErrKindBadFormat},
		{"unsupported media type", http.StatusUnsupportedMediaType, ErrKindBadFormat},
		{"unauthorized", http.StatusUnauthorized, ErrKindUnauthorized},
		{"payload too large", http.StatusRequestEntityTooLarge, ErrKindPayloadTooLarge},
		{"rate limited", http.StatusTooManyRequests, ErrKindRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32

			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			client := newTestClient(ts.URL)
			_, err := client.UploadChunk(context.Background(), "", Chunk{Data: []byte("audio")})

			require.Error(t, err)
			assert.Equal(t, int32(1), requests.Load(), "non-retryable status must not be retried")

			var ue *UploadError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.wantKind, ue.Kind)
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.False(t, ue.Retryable())
		})
	}
}

func TestUploadChunk_SizeGuardSkipsNetwork(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer ts.Close()

	client := NewClient(Config{
		BaseURL:     ts.URL,
		MaxFileSize: 16,
		Retry:       fastRetry(),
	})

	_, err := client.UploadChunk(context.Background(), "", Chunk{
		Data: make([]byte, 32),
	})

	require.Error(t, err)
	assert.Equal(t, int32(0), requests.Load())

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindPayloadTooLarge, ue.Kind)
}

func TestUploadChunk_EmptyChunkRejected(t *testing.T) {
	client := newTestClient("http://localhost:1")

	_, err := client.UploadChunk(context.Background(), "", Chunk{})

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindMissingFile, ue.Kind)
}

func TestUploadChunk_ResponseWithoutRecordingID(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"status": "processing"}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.UploadChunk(context.Background(), "", Chunk{Data: []byte("audio")})

	require.Error(t, err)
	assert.Equal(t, int32(1), requests.Load())

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindInvalidResponse, ue.Kind)
}

func TestUploadChunk_TimeoutIsNotRetried(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()

	client := NewClient(Config{
		BaseURL: ts.URL,
		Timeout: 50 * time.Millisecond,
		Retry:   fastRetry(),
	})

	_, err := client.UploadChunk(context.Background(), "", Chunk{Data: []byte("audio")})

	require.Error(t, err)
	assert.Equal(t, int32(1), requests.Load())

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindTimeout, ue.Kind)
}

func TestUploadFile_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(path, []byte("wav content"), 0o644))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))

		_, header, err := r.FormFile("audio")
		require.NoError(t, err)
		assert.Equal(t, "meeting.wav", header.Filename)
		assert.Equal(t, model.SourceUpload, r.FormValue("source"))

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"recording_id": "rec-9", "chunk_id": "chk-9", "status": "processing"}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	result, err := client.UploadFile(context.Background(), path, "")

	require.NoError(t, err)
	assert.Equal(t, "rec-9", result.RecordingID)
}

func TestUploadFile_MissingFile(t *testing.T) {
	client := newTestClient("http://localhost:1")

	_, err := client.UploadFile(context.Background(), "/nonexistent/audio.wav", "")

	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindMissingFile, ue.Kind)
	assert.Contains(t, err.Error(), "audio file missing or unreadable")
}

func TestGetRecording_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recordings/rec-1", r.URL.Path)
		json.NewEncoder(w).Encode(model.Recording{
			ID:     "rec-1",
			Source: model.SourceMicrophone,
			Status: model.RecordingStatusProcessing,
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	rec, err := client.GetRecording(context.Background(), "rec-1")

	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, model.RecordingStatusProcessing, rec.Status)
}

func TestGetRecording_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.GetRecording(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRecordings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recordings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"recordings": []model.Recording{
				{ID: "rec-2", Status: model.RecordingStatusProcessing},
				{ID: "rec-1", Status: model.RecordingStatusCompleted},
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	recs, err := client.ListRecordings(context.Background())

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec-2", recs[0].ID)
	assert.Equal(t, "rec-1", recs[1].ID)
}

func TestListChunks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recordings/rec-1/chunks", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"chunks": []model.AudioChunk{
				{ID: "chk-1", RecordingID: "rec-1", Sequence: 0, Status: model.ChunkStatusCompleted},
				{ID: "chk-2", RecordingID: "rec-1", Sequence: 1, Status: model.ChunkStatusProcessing},
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	chunks, err := client.ListChunks(context.Background(), "rec-1")

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Sequence)
	assert.Equal(t, 1, chunks[1].Sequence)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/healthz", r.URL.Path)
			fmt.Fprint(w, `{"status": "healthy", "service": "voscribe-api"}`)
		}))
		defer ts.Close()

		assert.NoError(t, newTestClient(ts.URL).Health(context.Background()))
	})

	t.Run("degraded", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status": "degraded"}`)
		}))
		defer ts.Close()

		err := newTestClient(ts.URL).Health(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unhealthy")
	})

	t.Run("unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer ts.Close()

		assert.Error(t, newTestClient(ts.URL).Health(context.Background()))
	})
}
