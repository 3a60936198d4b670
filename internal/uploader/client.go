// Package uploader is the client side of the voscribe API: chunk uploads
// with bounded retry, recording reads, and completion polling.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"
	"voscribe/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	// DefaultMaxFileSize rejects oversized chunks before any network call
	DefaultMaxFileSize = 10 * 1024 * 1024
	DefaultTimeout     = 30 * time.Second
)

// Config configures the upload client
type Config struct {
	BaseURL     string
	APIKey      string
	MaxFileSize int64
	Timeout     time.Duration
	Retry       *resilience.RetryConfig
}

// Chunk is the client-side view of one audio segment to upload
type Chunk struct {
	Data       []byte
	Filename   string
	Source     string
	Sequence   int
	Duration   float64
	CapturedAt time.Time
}

// UploadResult is the service's answer to an accepted upload
type UploadResult struct {
	RecordingID string `json:"recording_id"`
	ChunkID     string `json:"chunk_id"`
	Status      string `json:"status"`
}

type Client struct {
	baseURL     string
	apiKey      string
	maxFileSize int64
	retry       *resilience.RetryConfig
	httpClient  *http.Client
}

// NewClient creates an upload client with a pooled HTTP/2-enabled transport
func NewClient(cfg Config) *Client {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry == nil {
		// one initial attempt plus three retries at 1s, 2s, 4s
		cfg.Retry = &resilience.RetryConfig{
			MaxAttempts:     4,
			InitialInterval: 1 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		}
	}

	tr := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	_ = http2.ConfigureTransport(tr)

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		maxFileSize: cfg.MaxFileSize,
		retry:       cfg.Retry,
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   cfg.Timeout,
		},
	}
}

// UploadChunk sends one chunk to the service. An empty recordingID creates
// a new recording; otherwise the chunk is appended to the existing one.
// Server and network failures are retried with exponential backoff; every
// other failure surfaces immediately as a typed UploadError.
func (c *Client) UploadChunk(ctx context.Context, recordingID string, chunk Chunk) (*UploadResult, error) {
	if len(chunk.Data) == 0 {
		return nil, &UploadError{Kind: ErrKindMissingFile, Err: errors.New("empty chunk")}
	}
	if int64(len(chunk.Data)) > c.maxFileSize {
		return nil, &UploadError{Kind: ErrKindPayloadTooLarge}
	}

	payload, contentType, err := c.buildMultipart(recordingID, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload payload: %w", err)
	}

	var result *UploadResult
	err = resilience.RetryWithExponentialBackoff(ctx, c.retry, func() error {
		res, attemptErr := c.doUpload(ctx, payload, contentType)
		if attemptErr != nil {
			return attemptErr
		}
		result = res
		return nil
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		var ue *UploadError
		if errors.As(err, &ue) && ue.Retryable() {
			return nil, &UploadError{Kind: ErrKindMaxAttempts, Attempts: c.retry.MaxAttempts, Err: err}
		}
		return nil, err
	}

	logger.Info("Chunk uploaded",
		zap.String("recording_id", result.RecordingID),
		zap.String("chunk_id", result.ChunkID),
		zap.Int("sequence", chunk.Sequence))

	return result, nil
}

// UploadFile uploads a standalone audio file as a single-chunk recording
func (c *Client) UploadFile(ctx context.Context, path, source string) (*UploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &UploadError{Kind: ErrKindMissingFile, Err: err}
	}

	if source == "" {
		source = model.SourceUpload
	}

	return c.UploadChunk(ctx, "", Chunk{
		Data:       data,
		Filename:   filepath.Base(path),
		Source:     source,
		CapturedAt: time.Now(),
	})
}

func (c *Client) buildMultipart(recordingID string, chunk Chunk) ([]byte, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := chunk.Filename
	if filename == "" {
		filename = fmt.Sprintf("chunk-%04d.wav", chunk.Sequence)
	}

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return nil, "", err
	}

	if recordingID != "" {
		writer.WriteField("recording_id", recordingID)
	}
	if chunk.Source != "" {
		writer.WriteField("source", chunk.Source)
	}
	writer.WriteField("sequence", strconv.Itoa(chunk.Sequence))
	writer.WriteField("duration", strconv.FormatFloat(chunk.Duration, 'f', -1, 64))
	if !chunk.CapturedAt.IsZero() {
		writer.WriteField("captured_at", chunk.CapturedAt.UTC().Format(time.RFC3339Nano))
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}

// doUpload performs a single POST attempt and classifies the outcome
func (c *Client) doUpload(ctx context.Context, payload []byte, contentType string) (*UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recordings", bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, resilience.Permanent(&UploadError{Kind: ErrKindTimeout, Err: err})
		}
		return nil, &UploadError{Kind: ErrKindNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UploadError{Kind: ErrKindNetwork, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		var result UploadResult
		if err := json.Unmarshal(respBody, &result); err != nil || result.RecordingID == "" {
			return nil, resilience.Permanent(&UploadError{Kind: ErrKindInvalidResponse, Err: err})
		}
		return &result, nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil, resilience.Permanent(&UploadError{Kind: ErrKindBadFormat, StatusCode: resp.StatusCode})
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, resilience.Permanent(&UploadError{Kind: ErrKindUnauthorized, StatusCode: resp.StatusCode})
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, resilience.Permanent(&UploadError{Kind: ErrKindPayloadTooLarge, StatusCode: resp.StatusCode})
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, resilience.Permanent(&UploadError{Kind: ErrKindBadFormat, StatusCode: resp.StatusCode})
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.Permanent(&UploadError{Kind: ErrKindRateLimited, StatusCode: resp.StatusCode})
	case resp.StatusCode >= 500:
		return nil, &UploadError{Kind: ErrKindServer, StatusCode: resp.StatusCode}
	default:
		return nil, resilience.Permanent(&UploadError{Kind: ErrKindServer, StatusCode: resp.StatusCode})
	}
}

// GetRecording fetches current recording state from the service
func (c *Client) GetRecording(ctx context.Context, recordingID string) (*model.Recording, error) {
	var rec model.Recording
	if err := c.getJSON(ctx, "/recordings/"+url.PathEscape(recordingID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecordings fetches the newest-first recording listing
func (c *Client) ListRecordings(ctx context.Context) ([]model.Recording, error) {
	var out struct {
		Recordings []model.Recording `json:"recordings"`
	}
	if err := c.getJSON(ctx, "/recordings", &out); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// ListChunks fetches the chunks of a recording in sequence order
func (c *Client) ListChunks(ctx context.Context, recordingID string) ([]model.AudioChunk, error) {
	var out struct {
		Chunks []model.AudioChunk `json:"chunks"`
	}
	if err := c.getJSON(ctx, "/recordings/"+url.PathEscape(recordingID)+"/chunks", &out); err != nil {
		return nil, err
	}
	return out.Chunks, nil
}

// Health probes service availability
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/healthz", &out); err != nil {
		return err
	}
	if out.Status != "healthy" {
		return fmt.Errorf("service unhealthy: %s", out.Status)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &UploadError{Kind: ErrKindTimeout, Err: err}
		}
		return &UploadError{Kind: ErrKindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UploadError{Kind: ErrKindNetwork, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(body, dest); err != nil {
			return &UploadError{Kind: ErrKindInvalidResponse, Err: err}
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return &UploadError{Kind: ErrKindUnauthorized, StatusCode: resp.StatusCode}
	default:
		return &UploadError{Kind: ErrKindServer, StatusCode: resp.StatusCode}
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
