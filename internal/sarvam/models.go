package sarvam

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingText is returned when a success response carries no text field.
// The provider contract makes that a protocol violation, not an empty result.
var ErrMissingText = errors.New("transcription response missing text field")

// ProviderError represents a non-2xx answer from the transcription provider
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcription request failed: status=%d, body=%s", e.StatusCode, e.Message)
}

// Temporary reports whether the error is worth retrying
func (e *ProviderError) Temporary() bool {
	return e.StatusCode >= 500
}

// IsTemporary classifies errors for the worker retry loop.
// Server-side and network failures are transient; client errors and
// protocol violations are not.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingText) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}

// TranscriptionResult represents a successful provider response
type TranscriptionResult struct {
	Text         string
	LanguageCode string
	Raw          json.RawMessage
}

type transcribeResponse struct {
	Text         *string `json:"text"`
	LanguageCode string  `json:"language_code,omitempty"`
	RequestID    string  `json:"request_id,omitempty"`
}
