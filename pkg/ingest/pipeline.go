package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-ingest/pkg/deadletter"
	"github.com/illmade-knight/go-ingest/pkg/dedup"
	"github.com/illmade-knight/go-ingest/pkg/knowledge"
	"github.com/illmade-knight/go-ingest/pkg/offsets"
	"github.com/illmade-knight/go-ingest/pkg/retry"
	"github.com/illmade-knight/go-ingest/pkg/source"
)

// PipelineDeps collects the collaborators a pipeline is wired with. Source,
// Tracker, Deliverer and DeadLetters are required; Transform and NewDeduper
// default to the envelope transformer and the in-memory window deduplicator.
type PipelineDeps struct {
	Source      source.TopicSource
	Tracker     offsets.Tracker
	Deliverer   knowledge.Deliverer
	DeadLetters deadletter.Sink

	Transform knowledge.Transformer
	// NewDeduper builds the per-partition dedup state. Each worker gets its
	// own instance, so no dedup state is shared across partitions.
	NewDeduper func(p source.PartitionID) (dedup.Deduplicator, error)
}

// Pipeline wires the topic source, offset tracker, deduplicator,
// transformer, backpressure gate, retry controller and dead-letter sink into
// one partition-affine ingestion loop.
//
// Lifecycle: Start spawns one worker per assigned partition plus a single
// poller. Drain stops polling, lets in-flight deliveries finish or exhaust
// retries, and commits their offsets. Stop halts immediately; work in flight
// at that moment is not committed and will be redelivered on restart.
type Pipeline struct {
	cfg        *Config
	deps       PipelineDeps
	controller *retry.Controller
	metrics    *Metrics
	logger     zerolog.Logger

	workers map[source.PartitionID]*worker

	runCtx     context.Context
	runCancel  context.CancelFunc
	pollCtx    context.Context
	pollCancel context.CancelFunc

	pollerWg  sync.WaitGroup
	workersWg sync.WaitGroup
	metricsWg sync.WaitGroup

	mu       sync.Mutex
	started  bool
	fatalErr error
}

// NewPipeline creates a pipeline from an immutable config and its
// collaborators.
func NewPipeline(cfg *Config, deps PipelineDeps, logger zerolog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("offset tracker cannot be nil")
	}
	if deps.Deliverer == nil {
		return nil, fmt.Errorf("deliverer cannot be nil")
	}
	if deps.DeadLetters == nil {
		return nil, fmt.Errorf("dead-letter sink cannot be nil")
	}
	if deps.Transform == nil {
		deps.Transform = knowledge.Transform
	}
	if deps.NewDeduper == nil {
		deps.NewDeduper = func(source.PartitionID) (dedup.Deduplicator, error) {
			return dedup.NewWindowDeduplicator(cfg.DedupWindow, cfg.DedupMaxKeys)
		}
	}

	controller, err := retry.NewController(retry.ControllerConfig{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: retry.BackoffPolicy{
			BaseDelay: cfg.BaseDelay,
			MaxDelay:  cfg.MaxDelay,
		},
	}, deps.Deliverer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build retry controller: %w", err)
	}

	return &Pipeline{
		cfg:        cfg,
		deps:       deps,
		controller: controller,
		metrics:    &Metrics{},
		logger:     logger.With().Str("service", "IngestPipeline").Logger(),
		workers:    make(map[source.PartitionID]*worker),
	}, nil
}

// ResolveStartOffsets reads the tracker's checkpoints for the given
// partitions and returns the next offset to read for each partition that has
// one. Partitions without a checkpoint are absent from the result and fall
// back to the source's start policy.
func ResolveStartOffsets(
	ctx context.Context,
	tracker offsets.Tracker,
	partitions []source.PartitionID,
) (map[source.PartitionID]int64, error) {
	out := make(map[source.PartitionID]int64)
	for _, p := range partitions {
		committed, found, err := tracker.Read(ctx, p.Topic, p.Partition)
		if err != nil {
			return nil, fmt.Errorf("read checkpoint for %s: %w", p, err)
		}
		if found {
			out[p] = committed + 1
		}
	}
	return out, nil
}

// Start spawns the partition workers and the poller.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	assignments := p.deps.Source.Assignments()
	if len(assignments) == 0 {
		return fmt.Errorf("source has no partition assignments")
	}

	p.runCtx, p.runCancel = context.WithCancel(ctx)
	p.pollCtx, p.pollCancel = context.WithCancel(p.runCtx)

	for _, id := range assignments {
		deduper, err := p.deps.NewDeduper(id)
		if err != nil {
			p.runCancel()
			return fmt.Errorf("failed to build deduplicator for %s: %w", id, err)
		}
		w, err := newWorker(id, p.cfg, deduper, p.deps.Transform, p.controller, p.deps.Tracker, p.deps.DeadLetters, p.metrics, p.logger)
		if err != nil {
			p.runCancel()
			return fmt.Errorf("failed to build worker for %s: %w", id, err)
		}
		p.workers[id] = w
	}

	p.logger.Info().
		Int("worker_count", len(p.workers)).
		Bool("strict_order", p.cfg.StrictOrder).
		Int("max_in_flight", p.cfg.MaxInFlight).
		Msg("Starting ingestion pipeline...")

	for _, w := range p.workers {
		p.workersWg.Add(1)
		go func(w *worker) {
			defer p.workersWg.Done()
			w.run(p.runCtx)
		}(w)
	}

	p.pollerWg.Add(1)
	go p.pollLoop()

	p.metricsWg.Add(1)
	go p.metricsLoop()

	p.started = true
	p.logger.Info().Msg("Ingestion pipeline started.")
	return nil
}

// Drain stops polling, waits for queued and in-flight records to reach
// terminal outcomes (and commit), then shuts the pipeline down. The context
// bounds the grace period.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("pipeline not started")
	}

	p.logger.Info().Msg("Draining ingestion pipeline...")
	p.pollCancel()

	done := make(chan struct{})
	go func() {
		p.pollerWg.Wait()
		p.workersWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Pipeline drained.")
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout draining pipeline; forcing stop.")
		p.runCancel()
		<-done
	}

	p.shutdown()
	return ctx.Err()
}

// Stop halts the pipeline immediately. In-flight and retry-scheduled work is
// abandoned uncommitted and will be redelivered on restart; duplicates from
// that redelivery are caught by the deduplicator within its window.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("pipeline not started")
	}

	p.logger.Info().Msg("Stopping ingestion pipeline...")
	p.runCancel()

	done := make(chan struct{})
	go func() {
		p.pollerWg.Wait()
		p.workersWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for workers to halt.")
		p.shutdown()
		return ctx.Err()
	}

	p.shutdown()
	p.logger.Info().Msg("Ingestion pipeline stopped.")
	return nil
}

func (p *Pipeline) shutdown() {
	p.runCancel()
	p.metricsWg.Wait()
	for _, w := range p.workers {
		_ = w.deduper.Close()
	}
}

// Metrics returns a snapshot of the aggregate pipeline counters.
func (p *Pipeline) Metrics() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// Err reports a structural failure (source unreachable beyond the reconnect
// budget) that caused the pipeline to give up. Per-record failures never
// surface here.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatalErr
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.fatalErr == nil {
		p.fatalErr = err
	}
	p.mu.Unlock()
	p.logger.Error().Err(err).Msg("Pipeline failed; halting all workers.")
	p.runCancel()
}

// pollLoop is the single consumption loop. It polls the source, routes
// records to their partition workers, and applies backpressure by pausing
// partitions whose workers are saturated.
func (p *Pipeline) pollLoop() {
	defer p.pollerWg.Done()
	defer func() {
		for _, w := range p.workers {
			close(w.input)
		}
	}()

	backoff := retry.BackoffPolicy{BaseDelay: p.cfg.BaseDelay, MaxDelay: p.cfg.MaxDelay}
	paused := make(map[source.PartitionID]bool)
	consecutiveFailures := 0

	for {
		if p.pollCtx.Err() != nil {
			p.logger.Info().Msg("Poll loop stopping.")
			return
		}

		p.adjustBackpressure(paused)

		pollCtx, cancel := context.WithTimeout(p.pollCtx, p.cfg.PollTimeout)
		records, err := p.deps.Source.Poll(pollCtx, p.cfg.PollBatchSize)
		cancel()

		if err != nil {
			if p.pollCtx.Err() != nil {
				return
			}
			consecutiveFailures++
			p.logger.Warn().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("Topic source poll failed.")
			if consecutiveFailures >= p.cfg.MaxSourceFailures {
				p.fail(fmt.Errorf("source unavailable after %d consecutive failures: %w", consecutiveFailures, err))
				return
			}
			delay := backoff.Delay(consecutiveFailures, rand.Float64())
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-p.pollCtx.Done():
				timer.Stop()
				return
			}
			continue
		}
		consecutiveFailures = 0

		for _, rec := range records {
			w, ok := p.workers[rec.PartitionID()]
			if !ok {
				p.logger.Error().Str("partition", rec.PartitionID().String()).Msg("Record for unassigned partition dropped from routing.")
				continue
			}
			select {
			case w.input <- rec:
			case <-p.pollCtx.Done():
				// Unrouted records are uncommitted and will be polled again.
				return
			}
		}
	}
}

// adjustBackpressure pauses partitions whose worker queues are nearly full
// and resumes them once the worker has caught up. Hysteresis between the two
// thresholds avoids flapping.
func (p *Pipeline) adjustBackpressure(paused map[source.PartitionID]bool) {
	for id, w := range p.workers {
		depth := len(w.input)
		capacity := cap(w.input)
		switch {
		case !paused[id] && depth >= capacity*3/4:
			p.deps.Source.Pause(id)
			paused[id] = true
			p.logger.Debug().Str("partition", id.String()).Int("queue_depth", depth).Msg("Partition paused for backpressure.")
		case paused[id] && depth <= capacity/4:
			p.deps.Source.Resume(id)
			delete(paused, id)
			p.logger.Debug().Str("partition", id.String()).Msg("Partition resumed.")
		}
	}
}

// metricsLoop periodically emits aggregate counters as structured logs.
func (p *Pipeline) metricsLoop() {
	defer p.metricsWg.Done()

	ticker := time.NewTicker(p.cfg.MetricsInterval)
	defer ticker.Stop()

	emit := func() {
		snap := p.metrics.Snapshot()
		p.logger.Info().
			Int64("processed", snap.Processed).
			Int64("delivered", snap.Delivered).
			Int64("rejected", snap.Rejected).
			Int64("duplicates", snap.Duplicates).
			Int64("dead_lettered", snap.DeadLettered).
			Int64("retries", snap.Retries).
			Int64("commit_errors", snap.CommitErrors).
			Int64("avg_latency_ms", snap.AverageLatencyMillis).
			Msg("Pipeline metrics.")
	}

	for {
		select {
		case <-ticker.C:
			emit()
		case <-p.runCtx.Done():
			emit()
			return
		}
	}
}
