package sarvam

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"voscribe/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init(true)
}

func TestClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		err := r.ParseMultipartForm(1 << 20)
		require.NoError(t, err)

		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "chunk.wav", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "नमस्ते दुनिया", "language_code": "hi-IN"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")

	result, err := client.Transcribe(context.Background(), []byte("RIFF fake wav"), "chunk.wav")
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते दुनिया", result.Text)
	assert.Equal(t, "hi-IN", result.LanguageCode)
	assert.NotEmpty(t, result.Raw)
}

func TestClient_Transcribe_MissingText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"request_id": "req-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")

	_, err := client.Transcribe(context.Background(), []byte("data"), "chunk.wav")
	assert.ErrorIs(t, err, ErrMissingText)
}

func TestClient_Transcribe_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")

	_, err := client.Transcribe(context.Background(), []byte("data"), "chunk.wav")
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.True(t, pe.Temporary())
}

func TestClient_Transcribe_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key")

	_, err := client.Transcribe(context.Background(), []byte("data"), "chunk.wav")
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.Temporary())
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing text", ErrMissingText, false},
		{"server error", &ProviderError{StatusCode: 503}, true},
		{"bad request", &ProviderError{StatusCode: 400}, false},
		{"unauthorized", &ProviderError{StatusCode: 401}, false},
		{"rate limited", &ProviderError{StatusCode: 429}, false},
		{"network error", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTemporary(tt.err))
		})
	}
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	assert.NoError(t, client.Health(context.Background()))
}

func TestClient_Health_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	assert.Error(t, client.Health(context.Background()))
}
