package uploader

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the service does not know the recording id.
var ErrNotFound = errors.New("recording not found")

// ErrorKind identifies the category of an upload failure
type ErrorKind string

const (
	ErrKindBadFormat       ErrorKind = "bad_format"
	ErrKindUnauthorized    ErrorKind = "unauthorized"
	ErrKindPayloadTooLarge ErrorKind = "payload_too_large"
	ErrKindRateLimited     ErrorKind = "rate_limited"
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindMissingFile     ErrorKind = "missing_file"
	ErrKindInvalidResponse ErrorKind = "invalid_response"
	ErrKindMaxAttempts     ErrorKind = "max_attempts_exceeded"
	ErrKindServer          ErrorKind = "server_error"
	ErrKindNetwork         ErrorKind = "network"
)

// UploadError carries a distinct user-facing message per failure condition.
// Server and network kinds are retried internally; every other kind fails
// on first occurrence.
type UploadError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *UploadError) Error() string {
	switch e.Kind {
	case ErrKindBadFormat:
		return "upload rejected: unsupported audio format"
	case ErrKindUnauthorized:
		return "upload rejected: invalid or missing API key"
	case ErrKindPayloadTooLarge:
		return "upload rejected: audio file too large"
	case ErrKindRateLimited:
		return "upload rejected: rate limit exceeded, try again later"
	case ErrKindTimeout:
		return "upload timed out"
	case ErrKindMissingFile:
		return fmt.Sprintf("audio file missing or unreadable: %v", e.Err)
	case ErrKindInvalidResponse:
		return "service response missing recording id"
	case ErrKindMaxAttempts:
		return fmt.Sprintf("upload failed: max attempts exceeded (%d)", e.Attempts)
	case ErrKindServer:
		return fmt.Sprintf("service error (status %d)", e.StatusCode)
	case ErrKindNetwork:
		return fmt.Sprintf("network error: %v", e.Err)
	default:
		return "upload failed"
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed
func (e *UploadError) Retryable() bool {
	switch e.Kind {
	case ErrKindServer:
		return e.StatusCode >= 500
	case ErrKindNetwork:
		return true
	default:
		return false
	}
}
