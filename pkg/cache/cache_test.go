package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCache implements Cache on a plain map for tests.
type memoryCache struct {
	data    map[string][]byte
	deleted []string
}

var _ Cache = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.data[key]
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
		m.deleted = append(m.deleted, key)
	}
	return nil
}

func (m *memoryCache) Close() error { return nil }

func TestCache_RoundTrip(t *testing.T) {
	c := newMemoryCache()
	ctx := context.Background()

	type payload struct {
		ID   string
		Name string
	}

	stored := payload{ID: "123", Name: "test"}
	require.NoError(t, c.SetWithTTL(ctx, RecordingKey("123"), stored, 30*time.Second))

	var loaded payload
	require.NoError(t, c.Get(ctx, RecordingKey("123"), &loaded))
	assert.Equal(t, stored, loaded)
}

func TestCache_MissReturnsSentinel(t *testing.T) {
	c := newMemoryCache()

	var dest string
	err := c.Get(context.Background(), RecordingKey("absent"), &dest)

	assert.True(t, errors.Is(err, ErrMiss))
}

func TestInvalidateRecording(t *testing.T) {
	c := newMemoryCache()
	ctx := context.Background()

	for _, key := range []string{
		RecordingKey("rec-1"),
		ChunksKey("rec-1"),
		ListKey(),
		RecordingKey("rec-2"),
	} {
		require.NoError(t, c.SetWithTTL(ctx, key, "cached", time.Minute))
	}

	InvalidateRecording(ctx, c, "rec-1")

	assert.ElementsMatch(t, []string{"recording:rec-1", "chunks:rec-1", "recordings:list"}, c.deleted)

	var untouched string
	assert.NoError(t, c.Get(ctx, RecordingKey("rec-2"), &untouched))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "recording:rec-123", RecordingKey("rec-123"))
	assert.Equal(t, "chunks:rec-456", ChunksKey("rec-456"))
	assert.Equal(t, "recordings:list", ListKey())
}
