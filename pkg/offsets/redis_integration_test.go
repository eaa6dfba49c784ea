//go:build integration

package offsets_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-ingest/pkg/offsets"
)

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration test")
	}
	return addr
}

func TestRedisTracker_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Arrange: a unique prefix keeps concurrent test runs apart.
	prefix := fmt.Sprintf("ingest-test:offsets:%d", time.Now().UnixNano())
	tracker, err := offsets.NewRedisTracker(ctx, &offsets.RedisTrackerConfig{
		Addr:      redisAddr(t),
		KeyPrefix: prefix,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })

	const topic = "ingest.documents.v1"

	t.Run("Read before any commit reports no checkpoint", func(t *testing.T) {
		_, found, err := tracker.Read(ctx, topic, 0)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Commit then read round-trips", func(t *testing.T) {
		require.NoError(t, tracker.Commit(ctx, topic, 0, 41))

		offset, found, err := tracker.Read(ctx, topic, 0)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(41), offset)
	})

	t.Run("Stale commits are ignored server-side", func(t *testing.T) {
		require.NoError(t, tracker.Commit(ctx, topic, 0, 7))

		offset, _, err := tracker.Read(ctx, topic, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(41), offset)
	})

	t.Run("Checkpoints lists everything under the prefix", func(t *testing.T) {
		require.NoError(t, tracker.Commit(ctx, topic, 1, 5))

		checkpoints, err := tracker.Checkpoints(ctx)
		require.NoError(t, err)
		assert.Len(t, checkpoints, 2)
		assert.Equal(t, int64(41), checkpoints[fmt.Sprintf("%s:%s:0", prefix, topic)])
	})
}
