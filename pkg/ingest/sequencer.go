package ingest

import "sync"

// commitSequencer turns out-of-order terminal outcomes back into in-order
// offset commits. The worker registers every polled offset in log order;
// Complete marks an offset's terminal outcome and returns the highest offset
// whose predecessors (in the registered sequence) have all completed. This
// keeps the committed offset non-decreasing and gap-free even when
// concurrent deliveries finish out of order.
//
// Registered offsets need not be contiguous: compacted topics have holes,
// and only offsets the source actually returned take part in sequencing.
type commitSequencer struct {
	mu      sync.Mutex
	pending []int64
	done    map[int64]bool
}

func newCommitSequencer() *commitSequencer {
	return &commitSequencer{done: make(map[int64]bool)}
}

// Register adds a polled offset to the expected sequence. Offsets must be
// registered in increasing order, which the source's ordering guarantees.
func (s *commitSequencer) Register(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, offset)
}

// Complete marks an offset's terminal outcome. It returns the new commit
// watermark and true when the watermark advanced.
func (s *commitSequencer) Complete(offset int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done[offset] = true

	var watermark int64
	advanced := false
	for len(s.pending) > 0 && s.done[s.pending[0]] {
		watermark = s.pending[0]
		advanced = true
		delete(s.done, s.pending[0])
		s.pending = s.pending[1:]
	}
	return watermark, advanced
}

// Outstanding returns the number of registered offsets without a terminal
// outcome yet.
func (s *commitSequencer) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
