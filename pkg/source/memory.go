package source

import (
	"context"
	"sync"
	"time"
)

// MemorySource is an in-memory TopicSource backed by per-partition append-only
// logs. It preserves within-partition ordering and supports pause/resume and
// injected failures, which makes it suitable for unit tests and local runs.
type MemorySource struct {
	mu      sync.Mutex
	logs    map[PartitionID][]Record
	cursors map[PartitionID]int64
	paused  map[PartitionID]bool
	failErr error
	closed  bool
	notify  chan struct{}
}

// NewMemorySource creates a source over the given partitions. startOffsets
// maps a partition to the next offset to read; absent partitions start at 0.
func NewMemorySource(partitions []PartitionID, startOffsets map[PartitionID]int64) *MemorySource {
	s := &MemorySource{
		logs:    make(map[PartitionID][]Record, len(partitions)),
		cursors: make(map[PartitionID]int64, len(partitions)),
		paused:  make(map[PartitionID]bool),
		notify:  make(chan struct{}, 1),
	}
	for _, p := range partitions {
		s.logs[p] = nil
		s.cursors[p] = startOffsets[p]
	}
	return s
}

// Append adds a record to the tail of a partition log and returns its offset.
func (s *MemorySource) Append(p PartitionID, key, payload []byte, headers map[string]string) int64 {
	s.mu.Lock()
	offset := int64(len(s.logs[p]))
	s.logs[p] = append(s.logs[p], Record{
		Topic:     p.Topic,
		Partition: p.Partition,
		Offset:    offset,
		Key:       key,
		Payload:   payload,
		Headers:   headers,
	})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return offset
}

// Fail makes subsequent polls return the given error wrapped as
// ErrSourceUnavailable. Passing nil restores normal operation.
func (s *MemorySource) Fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Assignments returns the partitions this source was created with.
func (s *MemorySource) Assignments() []PartitionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PartitionID, 0, len(s.logs))
	for p := range s.logs {
		out = append(out, p)
	}
	return out
}

// Poll returns up to maxRecords across unpaused partitions, blocking until
// data is available or the context expires. An empty result is not an error.
func (s *MemorySource) Poll(ctx context.Context, maxRecords int) ([]Record, error) {
	for {
		records, err := s.take(maxRecords)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-s.notify:
		}
	}
}

func (s *MemorySource) take(maxRecords int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return nil, &unavailableError{cause: s.failErr}
	}

	now := time.Now()
	var records []Record
	for p, log := range s.logs {
		if s.paused[p] {
			continue
		}
		for s.cursors[p] < int64(len(log)) && len(records) < maxRecords {
			rec := log[s.cursors[p]]
			rec.ReceiveTime = now
			records = append(records, rec)
			s.cursors[p]++
		}
		if len(records) >= maxRecords {
			break
		}
	}
	return records, nil
}

// Pause stops returning records for the given partitions.
func (s *MemorySource) Pause(partitions ...PartitionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range partitions {
		s.paused[p] = true
	}
}

// Resume re-enables the given partitions.
func (s *MemorySource) Resume(partitions ...PartitionID) {
	s.mu.Lock()
	for _, p := range partitions {
		delete(s.paused, p)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close marks the source closed. It never fails.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// unavailableError wraps an injected failure so that errors.Is reports
// ErrSourceUnavailable while preserving the cause.
type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return "memory source unavailable: " + e.cause.Error()
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}
