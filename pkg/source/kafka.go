package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzerolog"
)

// KafkaSourceConfig holds configuration for a Kafka-backed topic source.
type KafkaSourceConfig struct {
	// Brokers is the list of seed brokers used to bootstrap the client.
	Brokers []string
	// ClientID identifies this consumer in broker logs and metrics.
	ClientID string
	// GroupID is attached for observability. Offsets are tracked by the
	// pipeline's own offset tracker, not by the broker's group coordinator,
	// so the source uses a static partition assignment.
	GroupID string
	// Partitions maps each physical topic to the partitions this source reads.
	Partitions map[string][]int32
	// StartPolicy selects where to begin on partitions with no checkpoint.
	StartPolicy StartPolicy
	// UseTLS dials brokers over TLS when set.
	UseTLS bool
}

// Validate ensures the configuration is usable, otherwise returns an error.
func (cfg *KafkaSourceConfig) Validate() error {
	var errs []error
	if len(cfg.Brokers) == 0 {
		errs = append(errs, errors.New("kafka source: at least one broker must be set"))
	}
	if len(cfg.Partitions) == 0 {
		errs = append(errs, errors.New("kafka source: at least one topic partition must be assigned"))
	}
	for topic, parts := range cfg.Partitions {
		if topic == "" {
			errs = append(errs, errors.New("kafka source: topic name cannot be empty"))
		}
		if len(parts) == 0 {
			errs = append(errs, fmt.Errorf("kafka source: topic %s has no partitions assigned", topic))
		}
	}
	if cfg.StartPolicy != "" && !cfg.StartPolicy.Valid() {
		errs = append(errs, fmt.Errorf("kafka source: unrecognized start policy %q", cfg.StartPolicy))
	}
	return errors.Join(errs...)
}

// KafkaSource implements TopicSource on top of a franz-go client with a
// static partition assignment.
type KafkaSource struct {
	client      *kgo.Client
	assignments []PartitionID
	logger      zerolog.Logger
	mu          sync.Mutex
	closed      bool
}

// NewKafkaSource creates and connects a Kafka source. startOffsets maps a
// partition to the next offset to read (last committed + 1); partitions not
// present fall back to the configured start policy.
func NewKafkaSource(
	cfg *KafkaSourceConfig,
	startOffsets map[PartitionID]int64,
	logger zerolog.Logger,
) (*KafkaSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fallback := kgo.NewOffset().AtStart()
	if cfg.StartPolicy == StartLatest {
		fallback = kgo.NewOffset().AtEnd()
	}

	consume := make(map[string]map[int32]kgo.Offset, len(cfg.Partitions))
	var assignments []PartitionID
	for topic, parts := range cfg.Partitions {
		consume[topic] = make(map[int32]kgo.Offset, len(parts))
		for _, p := range parts {
			id := PartitionID{Topic: topic, Partition: p}
			offset := fallback
			if next, ok := startOffsets[id]; ok {
				offset = kgo.NewOffset().At(next)
			}
			consume[topic][p] = offset
			assignments = append(assignments, id)
		}
	}

	kafkaLogger := logger.With().Str("component", "KafkaSource").Logger()
	if cfg.GroupID != "" {
		kafkaLogger = kafkaLogger.With().Str("group_id", cfg.GroupID).Logger()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumePartitions(consume),
		kgo.WithLogger(kzerolog.New(&kafkaLogger)),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.UseTLS {
		opts = append(opts, kgo.DialTLSConfig(new(tls.Config)))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Int("partition_count", len(assignments)).
		Msg("Kafka source connected.")

	return &KafkaSource{
		client:      client,
		assignments: assignments,
		logger:      kafkaLogger,
	}, nil
}

// Assignments returns the static partition assignment of this source.
func (s *KafkaSource) Assignments() []PartitionID {
	out := make([]PartitionID, len(s.assignments))
	copy(out, s.assignments)
	return out
}

// Poll fetches up to maxRecords, blocking until data arrives or the context
// expires. Broker-level fetch errors are reported as ErrSourceUnavailable;
// an expired context with no data is an empty, non-error result.
func (s *KafkaSource) Poll(ctx context.Context, maxRecords int) ([]Record, error) {
	fetches := s.client.PollRecords(ctx, maxRecords)
	if fetches.IsClientClosed() {
		return nil, fmt.Errorf("kafka client closed: %w", ErrSourceUnavailable)
	}

	var fetchErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		// An expired poll context is the normal "no data" case, not a failure.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("Fetch error from broker.")
		fetchErr = err
	})

	now := time.Now()
	var records []Record
	fetches.EachRecord(func(r *kgo.Record) {
		headers := make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = string(h.Value)
		}
		records = append(records, Record{
			Topic:       r.Topic,
			Partition:   r.Partition,
			Offset:      r.Offset,
			Key:         r.Key,
			Payload:     r.Value,
			Headers:     headers,
			ReceiveTime: now,
		})
	})

	if fetchErr != nil && len(records) == 0 {
		return nil, fmt.Errorf("kafka poll: %v: %w", fetchErr, ErrSourceUnavailable)
	}
	return records, nil
}

// Pause stops fetching the given partitions until Resume is called.
func (s *KafkaSource) Pause(partitions ...PartitionID) {
	s.client.PauseFetchPartitions(groupByTopic(partitions))
}

// Resume re-enables fetching for the given partitions.
func (s *KafkaSource) Resume(partitions ...PartitionID) {
	s.client.ResumeFetchPartitions(groupByTopic(partitions))
}

// Close shuts down the underlying client.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.client.Close()
		s.logger.Info().Msg("Kafka source closed.")
	}
	return nil
}

func groupByTopic(partitions []PartitionID) map[string][]int32 {
	grouped := make(map[string][]int32, len(partitions))
	for _, p := range partitions {
		grouped[p.Topic] = append(grouped[p.Topic], p.Partition)
	}
	return grouped
}
