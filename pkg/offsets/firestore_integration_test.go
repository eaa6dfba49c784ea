//go:build integration

package offsets_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/illmade-knight/go-ingest/pkg/offsets"
)

func firestoreEmulatorClient(t *testing.T, ctx context.Context) *firestore.Client {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping Firestore integration test")
	}

	client, err := firestore.NewClient(ctx, "ingest-test-project",
		option.WithEndpoint(host),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFirestoreTracker_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Arrange: a unique collection isolates concurrent test runs.
	client := firestoreEmulatorClient(t, ctx)
	tracker, err := offsets.NewFirestoreTracker(&offsets.FirestoreTrackerConfig{
		ProjectID:      "ingest-test-project",
		CollectionName: fmt.Sprintf("checkpoints-%d", time.Now().UnixNano()),
	}, client, zerolog.Nop())
	require.NoError(t, err)

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

	t.Run("Stale commits are ignored transactionally", func(t *testing.T) {
		require.NoError(t, tracker.Commit(ctx, topic, 0, 7))

		offset, _, err := tracker.Read(ctx, topic, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(41), offset)
	})
}

func TestNewFirestoreTracker_Validation(t *testing.T) {
	_, err := offsets.NewFirestoreTracker(&offsets.FirestoreTrackerConfig{CollectionName: "c"}, nil, zerolog.Nop())
	require.Error(t, err)
}
