package dedup

import "context"

// ====================================================================================
// This file defines the contract for duplicate suppression. The check and the
// mark are a single atomic operation so that no race window exists between
// observing a key and recording it. Keys expire on a sliding window: an
// expired key recurs as new, so the guarantee is at-most-once delivery within
// the window and at-least-once across window boundaries.
// ====================================================================================

// Deduplicator suppresses reprocessing of recently seen idempotency keys.
type Deduplicator interface {
	// CheckAndMark reports whether the key was already marked within the
	// retention window. If it was not, the key is marked in the same
	// operation.
	CheckAndMark(ctx context.Context, key string) (seen bool, err error)

	// Close releases any underlying storage.
	Close() error
}
