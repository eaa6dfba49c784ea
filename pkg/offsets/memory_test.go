package offsets_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-ingest/pkg/offsets"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("Read on an unknown partition reports no checkpoint", func(t *testing.T) {
		tracker := offsets.NewMemoryTracker()

		_, found, err := tracker.Read(ctx, "ingest.documents.v1", 0)

		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Commit then read round-trips per partition", func(t *testing.T) {
		// Arrange
		tracker := offsets.NewMemoryTracker()

		// Act
		require.NoError(t, tracker.Commit(ctx, "ingest.documents.v1", 0, 41))
		require.NoError(t, tracker.Commit(ctx, "ingest.documents.v1", 1, 7))

		// Assert: checkpoints are independent per partition.
		offset, found, err := tracker.Read(ctx, "ingest.documents.v1", 0)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(41), offset)

		offset, _, err = tracker.Read(ctx, "ingest.documents.v1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(7), offset)
	})

	t.Run("Stale and repeated commits never move the checkpoint backwards", func(t *testing.T) {
		// Arrange
		tracker := offsets.NewMemoryTracker()
		require.NoError(t, tracker.Commit(ctx, "ingest.events.v1", 0, 100))

		// Act: a lagging goroutine replays older watermarks.
		require.NoError(t, tracker.Commit(ctx, "ingest.events.v1", 0, 40))
		require.NoError(t, tracker.Commit(ctx, "ingest.events.v1", 0, 100))

		// Assert
		offset, found, err := tracker.Read(ctx, "ingest.events.v1", 0)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(100), offset)
	})
}
