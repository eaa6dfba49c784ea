package source

import (
	"context"
	"errors"
)

// ====================================================================================
// This file defines the contract for a partitioned, ordered topic source.
// Implementations must preserve within-partition ordering; interleaving across
// partitions is unspecified.
// ====================================================================================

// ErrSourceUnavailable indicates the broker could not be reached. It is
// distinct from an empty poll result, which is not an error.
var ErrSourceUnavailable = errors.New("topic source unavailable")

// TopicSource is an abstraction over a partitioned, ordered message log.
type TopicSource interface {
	// Assignments reports the partitions this source reads. The set is fixed
	// for the lifetime of the source; the pipeline spawns one worker per entry.
	Assignments() []PartitionID

	// Poll blocks until records are available or the context expires, and
	// returns at most maxRecords. An empty result with a nil error means no
	// data arrived in time. A broker failure is reported as an error wrapping
	// ErrSourceUnavailable.
	Poll(ctx context.Context, maxRecords int) ([]Record, error)

	// Pause stops fetching the given partitions on subsequent polls. Used by
	// the backpressure gate; records already fetched are still returned.
	Pause(partitions ...PartitionID)

	// Resume re-enables fetching for partitions previously paused.
	Resume(partitions ...PartitionID)

	// Close releases the underlying client. Poll must not be called after Close.
	Close() error
}

// StartPolicy selects where consumption begins on a partition that has no
// committed checkpoint.
type StartPolicy string

const (
	StartEarliest StartPolicy = "earliest"
	StartLatest   StartPolicy = "latest"
)

// Valid reports whether the policy is one of the recognized values.
func (p StartPolicy) Valid() bool {
	return p == StartEarliest || p == StartLatest
}
