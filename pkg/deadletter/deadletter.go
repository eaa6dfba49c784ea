package deadletter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/illmade-knight/go-ingest/pkg/source"
)

// Entry is a record whose processing permanently failed or exhausted
// retries, set aside for operator inspection and replay. Written once,
// immutable afterwards.
type Entry struct {
	// ID is a unique identifier for this entry.
	ID string `json:"id"`

	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`

	Key     []byte `json:"key,omitempty"`
	Payload []byte `json:"payload"`

	LastError string    `json:"last_error"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry builds an entry from the original record and its final failure.
func NewEntry(rec source.Record, lastErr error, attempts int) Entry {
	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return Entry{
		ID:        uuid.NewString(),
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Payload:   rec.Payload,
		LastError: msg,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
}

// Sink is an append-only store for dead-lettered records, keyed by the
// original (topic, partition, offset). Implementations must tolerate
// concurrent writes from independent partition workers.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
	Close() error
}

// MemorySink is a thread-safe, in-memory Sink for tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the entry.
func (s *MemorySink) Write(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything written so far.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Close is a no-op for the in-memory sink.
func (s *MemorySink) Close() error {
	return nil
}

// FanOutSink writes each entry to every underlying sink, e.g. a blob archive
// plus an audit table. A failure in one sink does not stop the others; the
// joined error is returned.
type FanOutSink struct {
	sinks []Sink
}

// NewFanOutSink composes several sinks into one.
func NewFanOutSink(sinks ...Sink) *FanOutSink {
	return &FanOutSink{sinks: sinks}
}

// Write sends the entry to all sinks.
func (s *FanOutSink) Write(ctx context.Context, entry Entry) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (s *FanOutSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
