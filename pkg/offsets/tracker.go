package offsets

import (
	"context"
)

// ====================================================================================
// This file defines the contract for durable per-partition offset checkpoints.
// Commits are idempotent and monotone: committing an offset at or below the
// previously committed one is a no-op, not an error, so retried commits after
// a crash are harmless. On restart the pipeline resumes from the committed
// offset + 1.
// ====================================================================================

// Tracker records the last committed offset per partition. Implementations
// must support concurrent commits from independent partitions without
// interference; per-partition keys avoid any global lock.
type Tracker interface {
	// Read returns the last committed offset for a partition. found is false
	// when no checkpoint exists yet.
	Read(ctx context.Context, topic string, partition int32) (offset int64, found bool, err error)

	// Commit durably records an offset for a partition. Committing an offset
	// at or below the current checkpoint is a no-op.
	Commit(ctx context.Context, topic string, partition int32, offset int64) error

	// Close releases any underlying storage client.
	Close() error
}
