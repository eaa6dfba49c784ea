package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
)

// BigQuerySinkConfig holds configuration for the BigQuery audit sink.
type BigQuerySinkConfig struct {
	DatasetID string
	TableID   string
	// BatchSize is the number of buffered entries that triggers a flush.
	BatchSize int
	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration
	// InsertTimeout bounds a single flush operation.
	InsertTimeout time.Duration
}

func (cfg *BigQuerySinkConfig) withDefaults() {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 30 * time.Second
	}
}

// bigqueryRow is the table shape for one dead-letter entry. Payload is
// stored as bytes so malformed UTF-8 survives intact.
type bigqueryRow struct {
	ID        string    `bigquery:"id"`
	Topic     string    `bigquery:"topic"`
	Partition int32     `bigquery:"partition"`
	Offset    int64     `bigquery:"offset"`
	Payload   []byte    `bigquery:"payload"`
	LastError string    `bigquery:"last_error"`
	Attempts  int       `bigquery:"attempts"`
	Timestamp time.Time `bigquery:"timestamp"`
}

// BigQuerySink streams dead-letter entries into a BigQuery table for audit
// queries. Writes are buffered and flushed in batches by a background
// worker, so Write itself never blocks on the insert API.
type BigQuerySink struct {
	cfg      BigQuerySinkConfig
	inserter *bigquery.Inserter
	logger   zerolog.Logger

	input  chan Entry
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewBigQuerySink creates the sink and starts its flush worker. If the table
// does not exist it is created with a schema inferred from the row type.
func NewBigQuerySink(
	ctx context.Context,
	cfg *BigQuerySinkConfig,
	client *bigquery.Client,
	logger zerolog.Logger,
) (*BigQuerySink, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQuerySinkConfig cannot be nil")
	}
	cfg.withDefaults()

	logger = logger.With().Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("Dead-letter table not found. Creating with inferred schema.")
		schema, inferErr := bigquery.InferSchema(bigqueryRow{})
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer dead-letter schema: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("failed to create dead-letter table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("Dead-letter table created.")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &BigQuerySink{
		cfg:      *cfg,
		inserter: tableRef.Inserter(),
		logger:   logger.With().Str("component", "BigQuerySink").Logger(),
		input:    make(chan Entry, cfg.BatchSize*2),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.worker(workerCtx)
	return s, nil
}

// Write buffers one entry for the next flush.
func (s *BigQuerySink) Write(ctx context.Context, entry Entry) error {
	select {
	case s.input <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes any buffered entries and stops the worker.
func (s *BigQuerySink) Close() error {
	s.once.Do(func() {
		close(s.input)
		s.wg.Wait()
		s.cancel()
	})
	return nil
}

// worker collects entries into batches and flushes them on size or interval.
func (s *BigQuerySink) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]Entry, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-s.input:
			if !ok {
				s.flush(context.Background(), batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.cfg.BatchSize {
				s.flush(ctx, batch)
				batch = make([]Entry, 0, s.cfg.BatchSize)
				ticker.Reset(s.cfg.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = make([]Entry, 0, s.cfg.BatchSize)
			}
		}
	}
}

func (s *BigQuerySink) flush(ctx context.Context, batch []Entry) {
	if len(batch) == 0 {
		return
	}

	rows := make([]*bigqueryRow, len(batch))
	for i, entry := range batch {
		rows[i] = &bigqueryRow{
			ID:        entry.ID,
			Topic:     entry.Topic,
			Partition: entry.Partition,
			Offset:    entry.Offset,
			Payload:   entry.Payload,
			LastError: entry.LastError,
			Attempts:  entry.Attempts,
			Timestamp: entry.Timestamp,
		}
	}

	insertCtx, cancel := context.WithTimeout(ctx, s.cfg.InsertTimeout)
	defer cancel()

	if err := s.inserter.Put(insertCtx, rows); err != nil {
		s.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert dead-letter batch into BigQuery.")
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				s.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return
	}
	s.logger.Debug().Int("batch_size", len(batch)).Msg("Dead-letter batch inserted into BigQuery.")
}
