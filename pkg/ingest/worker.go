package ingest

import (
	"context"
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

// worker owns exactly one partition for the lifetime of the assignment. It
// receives records in log order from the poller, filters duplicates,
// transforms, and drives each item through the retry controller, committing
// the offset once the record reaches a terminal outcome.
type worker struct {
	partition   source.PartitionID
	cfg         *Config
	input       chan source.Record
	deduper     dedup.Deduplicator
	transform   knowledge.Transformer
	controller  *retry.Controller
	tracker     offsets.Tracker
	deadLetters deadletter.Sink
	gate        *Gate
	seq         *commitSequencer
	metrics     *Metrics
	logger      zerolog.Logger

	deliveryWg sync.WaitGroup
}

func newWorker(
	p source.PartitionID,
	cfg *Config,
	deduper dedup.Deduplicator,
	transform knowledge.Transformer,
	controller *retry.Controller,
	tracker offsets.Tracker,
	deadLetters deadletter.Sink,
	metrics *Metrics,
	logger zerolog.Logger,
) (*worker, error) {
	gate, err := NewGate(cfg.MaxInFlight)
	if err != nil {
		return nil, err
	}
	return &worker{
		partition:   p,
		cfg:         cfg,
		input:       make(chan source.Record, cfg.MaxInFlight*2),
		deduper:     deduper,
		transform:   transform,
		controller:  controller,
		tracker:     tracker,
		deadLetters: deadLetters,
		gate:        gate,
		seq:         newCommitSequencer(),
		metrics:     metrics,
		logger: logger.With().
			Str("component", "PartitionWorker").
			Str("topic", p.Topic).
			Int32("partition", p.Partition).
			Logger(),
	}, nil
}

// run is the worker loop. It exits when the input channel closes (drain,
// after finishing in-flight deliveries) or the context is cancelled (forced
// stop, abandoning in-flight work uncommitted).
func (w *worker) run(ctx context.Context) {
	w.logger.Debug().Msg("Partition worker started.")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Partition worker stopping; in-flight work is abandoned for redelivery.")
			return
		case rec, ok := <-w.input:
			if !ok {
				w.deliveryWg.Wait()
				w.logger.Info().Msg("Partition worker drained.")
				return
			}
			w.handle(ctx, rec)
		}
	}
}

// handle processes a single record through dedup, transform and dispatch.
// Per-record failures are contained here; nothing a single record does can
// halt the partition.
func (w *worker) handle(ctx context.Context, rec source.Record) {
	w.seq.Register(rec.Offset)
	w.metrics.recordProcessed()

	obj, rej := w.transform(rec)
	if rej != nil {
		// Permanent by definition: commit and move on, no delivery and no
		// dead-letter entry.
		w.logger.Warn().
			Str("reason", string(rej.Reason)).
			Str("detail", rej.Detail).
			Int64("offset", rec.Offset).
			Msg("Record rejected by transformer.")
		w.metrics.recordRejected()
		w.complete(ctx, rec.Offset)
		return
	}

	seen, err := w.deduper.CheckAndMark(ctx, obj.IdempotencyKey())
	if err != nil {
		// Fail open: a dedup store error must not stall the partition. The
		// worst case is a duplicate delivery, which downstream has to
		// tolerate across window boundaries anyway.
		w.logger.Error().Err(err).Int64("offset", rec.Offset).Msg("Dedup check failed; treating record as new.")
	}
	if seen {
		w.logger.Debug().Str("key", obj.IdempotencyKey()).Int64("offset", rec.Offset).Msg("Duplicate suppressed.")
		w.metrics.recordDuplicate()
		w.complete(ctx, rec.Offset)
		return
	}

	if err := w.gate.Acquire(ctx); err != nil {
		// Shutdown while waiting for capacity. The record has no terminal
		// outcome and stays uncommitted for redelivery.
		return
	}

	if w.cfg.StrictOrder {
		// One delivery in flight at a time: the next record is not touched
		// until this one reaches its terminal outcome and commits.
		w.deliver(ctx, rec, obj)
		return
	}

	w.deliveryWg.Add(1)
	go func() {
		defer w.deliveryWg.Done()
		w.deliver(ctx, rec, obj)
	}()
}

// deliver drives one item to a terminal outcome and commits its offset.
func (w *worker) deliver(ctx context.Context, rec source.Record, obj *knowledge.Object) {
	defer w.gate.Release()

	outcome, err := w.controller.Deliver(ctx, obj)
	if err != nil {
		w.logger.Warn().Int64("offset", rec.Offset).Msg("Delivery abandoned by shutdown; record will be redelivered.")
		return
	}

	switch outcome.State {
	case retry.StateSucceeded:
		w.metrics.recordDelivered(time.Since(rec.ReceiveTime), outcome.Attempts)
		w.logger.Debug().
			Int64("offset", rec.Offset).
			Int("attempts", outcome.Attempts).
			Msg("Record delivered.")

	case retry.StateDeadLettered:
		entry := deadletter.NewEntry(rec, outcome.LastErr, outcome.Attempts)
		if writeErr := w.deadLetters.Write(ctx, entry); writeErr != nil {
			// The terminal outcome is not durably recorded, so the offset
			// must not advance; the record is redelivered on restart.
			w.logger.Error().Err(writeErr).Int64("offset", rec.Offset).Msg("Failed to write dead-letter entry; offset not committed.")
			return
		}
		w.metrics.recordDeadLettered()
		w.logger.Warn().
			Int64("offset", rec.Offset).
			Int("attempts", outcome.Attempts).
			AnErr("last_error", outcome.LastErr).
			Msg("Record dead-lettered.")
	}

	w.complete(ctx, rec.Offset)
}

// complete records a terminal outcome and commits the advanced watermark,
// if any. Stale commits from interleaved goroutines are no-ops in the
// tracker, so out-of-order watermark races are harmless.
func (w *worker) complete(ctx context.Context, offset int64) {
	watermark, advanced := w.seq.Complete(offset)
	if !advanced {
		return
	}
	w.commit(ctx, watermark)
}

// commit retries until the checkpoint is durably recorded or the context is
// cancelled. A failed commit is never skipped: reprocessing on restart is
// acceptable, a silent gap is not.
func (w *worker) commit(ctx context.Context, offset int64) {
	for {
		err := w.tracker.Commit(ctx, w.partition.Topic, w.partition.Partition, offset)
		if err == nil {
			return
		}
		w.metrics.recordCommitError()
		w.logger.Error().Err(err).Int64("offset", offset).Msg("Offset commit failed, retrying.")

		timer := time.NewTimer(w.cfg.CommitRetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
