package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubSinkConfig holds configuration for the Pub/Sub replay sink.
type PubsubSinkConfig struct {
	TopicID string
	// TopicExistsTimeout bounds the existence check at construction.
	TopicExistsTimeout time.Duration
	// PublishConfirmationTimeout bounds waiting for a publish result.
	PublishConfirmationTimeout time.Duration
}

func (cfg *PubsubSinkConfig) withDefaults() {
	if cfg.TopicExistsTimeout <= 0 {
		cfg.TopicExistsTimeout = 15 * time.Second
	}
	if cfg.PublishConfirmationTimeout <= 0 {
		cfg.PublishConfirmationTimeout = 20 * time.Second
	}
}

// PubsubSink publishes dead-letter entries to a Pub/Sub topic so replay
// tooling can subscribe to them. The record identity rides in message
// attributes for filtering without payload decoding.
type PubsubSink struct {
	topic          *pubsub.Topic
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// NewPubsubSink creates the sink, validating the topic's existence first.
func NewPubsubSink(
	ctx context.Context,
	cfg *PubsubSinkConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubsubSink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	cfg.withDefaults()

	topic := client.Topic(cfg.TopicID)
	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("Pub/Sub dead-letter sink initialized.")

	return &PubsubSink{
		topic:          topic,
		confirmTimeout: cfg.PublishConfirmationTimeout,
		logger:         logger.With().Str("component", "PubsubSink").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Write publishes one entry and waits for the broker's confirmation, so a
// failed publish surfaces to the caller rather than being dropped.
func (s *PubsubSink) Write(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry %s: %w", entry.ID, err)
	}

	res := s.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"topic":     entry.Topic,
			"partition": strconv.FormatInt(int64(entry.Partition), 10),
			"offset":    strconv.FormatInt(entry.Offset, 10),
		},
	})

	getCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	msgID, err := res.Get(getCtx)
	if err != nil {
		s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to publish dead-letter entry.")
		return fmt.Errorf("publish dead-letter entry %s: %w", entry.ID, err)
	}

	s.logger.Debug().Str("entry_id", entry.ID).Str("pubsub_msg_id", msgID).Msg("Dead-letter entry published.")
	return nil
}

// Close flushes buffered publishes and stops the topic.
func (s *PubsubSink) Close() error {
	s.topic.Stop()
	return nil
}
