// Command ingestd runs the knowledge ingestion pipeline as a long-lived
// service: it consumes the ingestion topics, delivers validated objects to
// the knowledge API, and exposes health and metrics probes over HTTP.
//
// Connection configuration comes from the YAML file passed via -config;
// endpoints and credentials come from the environment:
//
//	KNOWLEDGE_API_URL   base URL of the knowledge API (required)
//	KNOWLEDGE_API_KEY   bearer token for the knowledge API
//	REDIS_ADDR          Redis for offset checkpoints and deduplication (required)
//	GCP_PROJECT_ID      project for the dead-letter stores (required)
//	DLQ_BUCKET          GCS bucket for the dead-letter archive (required)
//	DLQ_BQ_DATASET      optional BigQuery dataset for the dead-letter audit table
//	DLQ_BQ_TABLE        BigQuery table name, defaults to "dead_letters"
//	DLQ_PUBSUB_TOPIC    optional Pub/Sub topic for dead-letter replay fan-out
//	HTTP_PORT           probe listen address, defaults to ":8080"
//	LOG_LEVEL           zerolog level name, defaults to "info"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-ingest/pkg/deadletter"
	"github.com/illmade-knight/go-ingest/pkg/dedup"
	"github.com/illmade-knight/go-ingest/pkg/ingest"
	"github.com/illmade-knight/go-ingest/pkg/knowledge"
	"github.com/illmade-knight/go-ingest/pkg/offsets"
	"github.com/illmade-knight/go-ingest/pkg/service"
	"github.com/illmade-knight/go-ingest/pkg/source"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the pipeline config file")
	flag.Parse()

	logLevel, err := zerolog.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(logLevel).With().Timestamp().Logger()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("ingestd exited with error")
	}
}

func run(configPath string, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := ingest.LoadConfig(configPath)
	if err != nil {
		return err
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		return fmt.Errorf("REDIS_ADDR must be set")
	}
	apiURL := os.Getenv("KNOWLEDGE_API_URL")
	if apiURL == "" {
		return fmt.Errorf("KNOWLEDGE_API_URL must be set")
	}
	projectID := os.Getenv("GCP_PROJECT_ID")
	if projectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID must be set")
	}
	bucketName := os.Getenv("DLQ_BUCKET")
	if bucketName == "" {
		return fmt.Errorf("DLQ_BUCKET must be set")
	}

	tracker, err := offsets.NewRedisTracker(ctx, &offsets.RedisTrackerConfig{
		Addr: redisAddr,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tracker.Close() }()

	assignments := partitionIDs(cfg.PhysicalPartitions())
	startOffsets, err := ingest.ResolveStartOffsets(ctx, tracker, assignments)
	if err != nil {
		return err
	}

	src, err := source.NewKafkaSource(&source.KafkaSourceConfig{
		Brokers:     cfg.BootstrapServers,
		ClientID:    "ingestd",
		GroupID:     cfg.ConsumerGroupID,
		Partitions:  cfg.PhysicalPartitions(),
		StartPolicy: source.StartPolicy(cfg.StartPolicy),
		UseTLS:      cfg.SecurityProtocol == "ssl",
	}, startOffsets, logger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	client, err := knowledge.NewClient(&knowledge.ClientConfig{
		BaseURL: apiURL,
		APIKey:  os.Getenv("KNOWLEDGE_API_KEY"),
	}, logger)
	if err != nil {
		return err
	}

	deadLetters, err := buildDeadLetterSinks(ctx, projectID, bucketName, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deadLetters.Close() }()

	pipeline, err := ingest.NewPipeline(cfg, ingest.PipelineDeps{
		Source:      src,
		Tracker:     tracker,
		Deliverer:   client,
		DeadLetters: deadLetters,
		NewDeduper: func(p source.PartitionID) (dedup.Deduplicator, error) {
			return dedup.NewRedisDeduplicator(ctx, &dedup.RedisDeduplicatorConfig{
				Addr:   redisAddr,
				Window: cfg.DedupWindow,
			}, logger)
		},
	}, logger)
	if err != nil {
		return err
	}

	svc, err := service.New(&service.Config{HTTPPort: getenv("HTTP_PORT", ":8080")}, pipeline, logger)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}

// buildDeadLetterSinks assembles the dead-letter fan-out: the GCS archive is
// mandatory, the BigQuery audit table and the Pub/Sub replay topic are added
// when configured.
func buildDeadLetterSinks(ctx context.Context, projectID, bucketName string, logger zerolog.Logger) (deadletter.Sink, error) {
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	gcsSink, err := deadletter.NewGCSSink(&deadletter.GCSSinkConfig{
		BucketName: bucketName,
	}, deadletter.NewBucketAdapter(storageClient.Bucket(bucketName)), logger)
	if err != nil {
		return nil, err
	}

	sinks := []deadletter.Sink{gcsSink}

	if dataset := os.Getenv("DLQ_BQ_DATASET"); dataset != "" {
		bqClient, err := bigquery.NewClient(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("create bigquery client: %w", err)
		}
		bqSink, err := deadletter.NewBigQuerySink(ctx, &deadletter.BigQuerySinkConfig{
			DatasetID: dataset,
			TableID:   getenv("DLQ_BQ_TABLE", "dead_letters"),
		}, bqClient, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, bqSink)
	}

	if topicID := os.Getenv("DLQ_PUBSUB_TOPIC"); topicID != "" {
		psClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		psSink, err := deadletter.NewPubsubSink(ctx, &deadletter.PubsubSinkConfig{
			TopicID: topicID,
		}, psClient, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, psSink)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return deadletter.NewFanOutSink(sinks...), nil
}

func partitionIDs(byTopic map[string][]int32) []source.PartitionID {
	var out []source.PartitionID
	for topic, parts := range byTopic {
		for _, p := range parts {
			out = append(out, source.PartitionID{Topic: topic, Partition: p})
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
