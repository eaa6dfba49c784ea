package offsets

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreTrackerConfig holds configuration for the Firestore-backed tracker.
type FirestoreTrackerConfig struct {
	ProjectID      string
	CollectionName string
}

// checkpointDoc is the Firestore document shape for one partition checkpoint.
type checkpointDoc struct {
	Topic       string    `firestore:"topic"`
	Partition   int32     `firestore:"partition"`
	Offset      int64     `firestore:"offset"`
	CommittedAt time.Time `firestore:"committedAt"`
}

// FirestoreTracker is a Tracker that stores one document per partition in a
// Firestore collection. Suitable for low-volume deployments; use the Redis
// tracker where commit rates are high.
type FirestoreTracker struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreTracker creates a tracker over an externally managed Firestore
// client. The client's lifecycle stays with the caller.
func NewFirestoreTracker(
	cfg *FirestoreTrackerConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreTracker initialized.")

	return &FirestoreTracker{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreTracker").Logger(),
	}, nil
}

// Read returns the committed offset for the partition, if any.
func (t *FirestoreTracker) Read(ctx context.Context, topic string, partition int32) (int64, bool, error) {
	docID := docKey(topic, partition)
	snap, err := t.client.Collection(t.collectionName).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, false, nil
		}
		t.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to read checkpoint from Firestore.")
		return 0, false, fmt.Errorf("firestore get for %s: %w", docID, err)
	}

	var doc checkpointDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, false, fmt.Errorf("firestore DataTo for %s: %w", docID, err)
	}
	return doc.Offset, true, nil
}

// Commit records the offset in a transaction, advancing the checkpoint only
// if the new offset is greater than the stored one.
func (t *FirestoreTracker) Commit(ctx context.Context, topic string, partition int32, offset int64) error {
	docID := docKey(topic, partition)
	ref := t.client.Collection(t.collectionName).Doc(docID)

	err := t.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var current checkpointDoc
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			if current.Offset >= offset {
				// Stale commit from a retry; keep the existing checkpoint.
				return nil
			}
		}
		return tx.Set(ref, checkpointDoc{
			Topic:       topic,
			Partition:   partition,
			Offset:      offset,
			CommittedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		t.logger.Error().Err(err).Str("doc_id", docID).Int64("offset", offset).Msg("Failed to commit checkpoint to Firestore.")
		return fmt.Errorf("firestore commit for %s: %w", docID, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (t *FirestoreTracker) Close() error {
	t.logger.Info().Msg("FirestoreTracker does not close the injected Firestore client.")
	return nil
}

// docKey builds a Firestore document ID for a partition. Document IDs cannot
// contain '/', so this differs from the in-memory key format.
func docKey(topic string, partition int32) string {
	return fmt.Sprintf("%s-%d", topic, partition)
}
