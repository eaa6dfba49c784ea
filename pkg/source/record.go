package source

import (
	"fmt"
	"time"
)

// PartitionID names one partition of one topic. It is the unit of
// parallelism for the pipeline: one worker owns one PartitionID.
type PartitionID struct {
	Topic     string
	Partition int32
}

func (p PartitionID) String() string {
	return fmt.Sprintf("%s/%d", p.Topic, p.Partition)
}

// Record is one message read from a topic partition. It is immutable once
// read; its identity is (Topic, Partition, Offset).
type Record struct {
	Topic     string
	Partition int32
	Offset    int64

	// Key is the broker-level message key. It is not necessarily the
	// idempotency key, which is derived from the payload.
	Key     []byte
	Payload []byte
	Headers map[string]string

	// ReceiveTime is when this record was read from the source, used for
	// latency accounting.
	ReceiveTime time.Time
}

// PartitionID returns the partition this record belongs to.
func (r *Record) PartitionID() PartitionID {
	return PartitionID{Topic: r.Topic, Partition: r.Partition}
}
