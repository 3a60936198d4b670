package uploader

import (
	"context"
	"errors"
	"time"
	"voscribe/pkg/logger"
	"voscribe/pkg/model"

	"go.uber.org/zap"
)

// ErrAwaitTimeout means the recording did not reach a terminal status
// within the polling budget. The recording may still complete later.
var ErrAwaitTimeout = errors.New("timed out waiting for transcription to complete")

// PollOptions bounds AwaitCompletion
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultPollOptions() PollOptions {
	return PollOptions{
		MaxAttempts: 30,
		Interval:    1 * time.Second,
	}
}

// AwaitCompletion polls the recording until it reaches a terminal status.
// A failed recording is a successful poll: the recording is returned with
// a nil error so the caller can show the failure detail. ErrAwaitTimeout
// is returned only when the polling budget runs out first.
func (c *Client) AwaitCompletion(ctx context.Context, recordingID string, opts PollOptions) (*model.Recording, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 30
	}
	if opts.Interval <= 0 {
		opts.Interval = 1 * time.Second
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.Interval):
			}
		}

		rec, err := c.GetRecording(ctx, recordingID)
		if err != nil {
			if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				return nil, err
			}
			// transient read failures consume an attempt but keep polling
			logger.Warn("Poll attempt failed",
				zap.String("recording_id", recordingID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if rec.IsTerminal() {
			return rec, nil
		}
	}

	return nil, ErrAwaitTimeout
}
