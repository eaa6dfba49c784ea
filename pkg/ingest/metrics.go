package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates pipeline counters across workers. Counters are atomic;
// latency tracking takes a small lock.
type Metrics struct {
	processed    atomic.Int64
	delivered    atomic.Int64
	rejected     atomic.Int64
	duplicates   atomic.Int64
	deadLettered atomic.Int64
	retries      atomic.Int64
	commitErrors atomic.Int64

	mu           sync.Mutex
	latencySum   time.Duration
	latencyCount int64
}

// MetricsSnapshot is a point-in-time copy of the pipeline counters.
type MetricsSnapshot struct {
	Processed    int64 `json:"processed"`
	Delivered    int64 `json:"delivered"`
	Rejected     int64 `json:"rejected"`
	Duplicates   int64 `json:"duplicates"`
	DeadLettered int64 `json:"dead_lettered"`
	Retries      int64 `json:"retries"`
	CommitErrors int64 `json:"commit_errors"`

	// AverageLatencyMillis is the mean time from record receipt to terminal
	// outcome, across delivered records.
	AverageLatencyMillis int64 `json:"average_latency_ms"`
}

func (m *Metrics) recordProcessed()    { m.processed.Add(1) }
func (m *Metrics) recordRejected()     { m.rejected.Add(1) }
func (m *Metrics) recordDuplicate()    { m.duplicates.Add(1) }
func (m *Metrics) recordDeadLettered() { m.deadLettered.Add(1) }
func (m *Metrics) recordCommitError()  { m.commitErrors.Add(1) }

func (m *Metrics) recordDelivered(latency time.Duration, attempts int) {
	m.delivered.Add(1)
	if attempts > 1 {
		m.retries.Add(int64(attempts - 1))
	}
	m.mu.Lock()
	m.latencySum += latency
	m.latencyCount++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	var avg int64
	if m.latencyCount > 0 {
		avg = (m.latencySum / time.Duration(m.latencyCount)).Milliseconds()
	}
	m.mu.Unlock()

	return MetricsSnapshot{
		Processed:            m.processed.Load(),
		Delivered:            m.delivered.Load(),
		Rejected:             m.rejected.Load(),
		Duplicates:           m.duplicates.Load(),
		DeadLettered:         m.deadLettered.Load(),
		Retries:              m.retries.Load(),
		CommitErrors:         m.commitErrors.Load(),
		AverageLatencyMillis: avg,
	}
}
