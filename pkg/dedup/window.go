package dedup

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// windowEntry is the internal structure stored in the expiry list.
type windowEntry struct {
	key      string
	markedAt time.Time
}

// WindowDeduplicator is a thread-safe, in-memory Deduplicator bounded both by
// a time window and by a maximum key count, so memory use cannot grow without
// bound. Eviction is oldest-first; entries are never refreshed on a duplicate
// hit, so a key's retention is measured from its first mark.
type WindowDeduplicator struct {
	window  time.Duration
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	ll      *list.List               // Oldest entries at the back.
	entries map[string]*list.Element // Fast key lookups.
}

// NewWindowDeduplicator creates a deduplicator retaining keys for the given
// window, holding at most maxKeys entries.
func NewWindowDeduplicator(window time.Duration, maxKeys int) (*WindowDeduplicator, error) {
	if window <= 0 {
		return nil, fmt.Errorf("dedup window must be greater than 0")
	}
	if maxKeys <= 0 {
		return nil, fmt.Errorf("maxKeys must be greater than 0")
	}
	return &WindowDeduplicator{
		window:  window,
		maxKeys: maxKeys,
		now:     time.Now,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}, nil
}

// CheckAndMark atomically checks the key against the window and marks it if
// it is new. Expired entries are evicted lazily on each call.
func (d *WindowDeduplicator) CheckAndMark(_ context.Context, key string) (bool, error) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(now)

	if _, ok := d.entries[key]; ok {
		return true, nil
	}

	element := d.ll.PushFront(&windowEntry{key: key, markedAt: now})
	d.entries[key] = element

	// Over capacity: drop the oldest key early. It may then recur as new,
	// which the at-least-once contract tolerates.
	if d.ll.Len() > d.maxKeys {
		d.evictOldest()
	}
	return false, nil
}

// Len returns the number of retained keys.
func (d *WindowDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ll.Len()
}

// Close is a no-op for the in-memory deduplicator.
func (d *WindowDeduplicator) Close() error {
	return nil
}

// expire removes entries older than the window. Must be called with the
// mutex held.
func (d *WindowDeduplicator) expire(now time.Time) {
	for {
		back := d.ll.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*windowEntry)
		if now.Sub(entry.markedAt) < d.window {
			return
		}
		d.ll.Remove(back)
		delete(d.entries, entry.key)
	}
}

// evictOldest removes the oldest entry. Must be called with the mutex held.
func (d *WindowDeduplicator) evictOldest() {
	back := d.ll.Back()
	if back != nil {
		entry := d.ll.Remove(back).(*windowEntry)
		delete(d.entries, entry.key)
	}
}
