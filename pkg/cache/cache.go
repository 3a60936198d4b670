// Package cache is the read-through cache in front of recording and
// chunk lookups. Values are stored as JSON.
package cache

import (
	"context"
	"errors"
	"time"
	"voscribe/pkg/logger"

	"go.uber.org/zap"
)

// ErrMiss reports an absent key. Readers fall back to the database on a
// miss; any other error means the cache itself is unhealthy.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// RecordingKey caches a single recording with its chunk counters.
func RecordingKey(recordingID string) string {
	return "recording:" + recordingID
}

// ChunksKey caches the chunk listing of one recording.
func ChunksKey(recordingID string) string {
	return "chunks:" + recordingID
}

// ListKey caches the newest-first recording listing.
func ListKey() string {
	return "recordings:list"
}

// InvalidateRecording drops every cached read a write to the recording
// could have staled. Failures are logged, not returned; the cache
// repopulates on the next read.
func InvalidateRecording(ctx context.Context, c Cache, recordingID string) {
	keys := []string{
		RecordingKey(recordingID),
		ChunksKey(recordingID),
		ListKey(),
	}
	if err := c.Delete(ctx, keys...); err != nil {
		logger.Warn("Failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
	}
}
