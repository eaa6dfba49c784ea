package offsets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTracker is a thread-safe, in-memory Tracker. Checkpoints do not
// survive a restart; it is intended for tests and local runs.
type MemoryTracker struct {
	mu        sync.RWMutex
	committed map[string]int64
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		committed: make(map[string]int64),
	}
}

// Read returns the committed offset for the partition, if any.
func (t *MemoryTracker) Read(_ context.Context, topic string, partition int32) (int64, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	offset, ok := t.committed[partitionKey(topic, partition)]
	return offset, ok, nil
}

// Commit records the offset if it advances the checkpoint.
func (t *MemoryTracker) Commit(_ context.Context, topic string, partition int32, offset int64) error {
	key := partitionKey(topic, partition)
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.committed[key]; ok && current >= offset {
		return nil
	}
	t.committed[key] = offset
	return nil
}

// Close is a no-op for the in-memory tracker.
func (t *MemoryTracker) Close() error {
	return nil
}

func partitionKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}
