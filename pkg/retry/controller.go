package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-ingest/pkg/knowledge"
)

// State of a delivery attempt. Transitions:
//
//	Pending → InFlight → Succeeded
//	                   → RetryScheduled → InFlight (after the backoff delay)
//	                   → DeadLettered   (permanent failure or attempt cap)
type State string

const (
	StatePending        State = "PENDING"
	StateInFlight       State = "IN_FLIGHT"
	StateSucceeded      State = "SUCCEEDED"
	StateRetryScheduled State = "RETRY_SCHEDULED"
	StateDeadLettered   State = "DEAD_LETTERED"
)

// Attempt tracks one item's progress through delivery. It is mutated only by
// the Controller and destroyed on a terminal outcome.
type Attempt struct {
	Object      *knowledge.Object
	Number      int
	State       State
	LastErr     error
	NextRetryAt time.Time
}

// Outcome is the terminal result of driving an item through delivery.
// State is either StateSucceeded or StateDeadLettered.
type Outcome struct {
	State    State
	Attempts int
	LastErr  error
}

// ControllerConfig holds configuration for the retry controller.
type ControllerConfig struct {
	// MaxAttempts caps transient retries; exceeding it dead-letters the item.
	MaxAttempts int
	Backoff     BackoffPolicy
}

func (cfg *ControllerConfig) withDefaults() {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Backoff.MaxDelay < cfg.Backoff.BaseDelay {
		cfg.Backoff.MaxDelay = 30 * time.Second
	}
}

// Controller wraps a Deliverer with retry, backoff and failure
// classification. Deliver drives a single item to a terminal outcome; the
// caller commits the originating offset when it returns.
type Controller struct {
	deliverer   knowledge.Deliverer
	maxAttempts int
	backoff     BackoffPolicy
	logger      zerolog.Logger

	// sleep and jitter are injectable for deterministic tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
	rngMu  sync.Mutex
	rng    *rand.Rand
}

// NewController creates a retry controller around a deliverer.
func NewController(cfg ControllerConfig, deliverer knowledge.Deliverer, logger zerolog.Logger) (*Controller, error) {
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer cannot be nil")
	}
	cfg.withDefaults()
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backoff policy: %w", err)
	}

	c := &Controller{
		deliverer:   deliverer,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      logger.With().Str("component", "RetryController").Logger(),
		sleep:       sleepContext,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.jitter = func() float64 {
		c.rngMu.Lock()
		defer c.rngMu.Unlock()
		return c.rng.Float64()
	}
	return c, nil
}

// SetSleeper replaces the backoff sleep function. Intended for tests that
// need deterministic, instant delays.
func (c *Controller) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	c.sleep = sleep
}

// SetJitter replaces the jitter source. Intended for deterministic tests.
func (c *Controller) SetJitter(jitter func() float64) {
	c.jitter = jitter
}

// Deliver drives one item to a terminal outcome. It returns a non-nil error
// only when the context is cancelled first, in which case the item has no
// terminal outcome and must not be committed: it will be redelivered on
// restart.
func (c *Controller) Deliver(ctx context.Context, obj *knowledge.Object) (Outcome, error) {
	attempt := &Attempt{Object: obj, State: StatePending}

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		attempt.Number++
		attempt.State = StateInFlight

		err := c.deliverer.Deliver(ctx, obj)
		if err == nil {
			attempt.State = StateSucceeded
			return Outcome{State: StateSucceeded, Attempts: attempt.Number}, nil
		}
		if ctx.Err() != nil {
			// Cancelled mid-flight: the outcome of this attempt is unknown,
			// so treat it as failed pending redelivery.
			return Outcome{}, ctx.Err()
		}
		attempt.LastErr = err

		if !knowledge.IsTransient(err) {
			c.logger.Warn().Err(err).Str("object_id", obj.ID).Int("attempts", attempt.Number).Msg("Permanent delivery failure, dead-lettering.")
			attempt.State = StateDeadLettered
			return Outcome{State: StateDeadLettered, Attempts: attempt.Number, LastErr: err}, nil
		}

		if attempt.Number >= c.maxAttempts {
			c.logger.Warn().Err(err).Str("object_id", obj.ID).Int("attempts", attempt.Number).Msg("Retry attempts exhausted, dead-lettering.")
			attempt.State = StateDeadLettered
			return Outcome{State: StateDeadLettered, Attempts: attempt.Number, LastErr: err}, nil
		}

		delay := c.backoff.Delay(attempt.Number, c.jitter())
		attempt.State = StateRetryScheduled
		attempt.NextRetryAt = time.Now().Add(delay)
		c.logger.Debug().Err(err).Str("object_id", obj.ID).Int("attempt", attempt.Number).Dur("delay", delay).Msg("Transient delivery failure, retry scheduled.")

		if err := c.sleep(ctx, delay); err != nil {
			return Outcome{}, err
		}
	}
}

// sleepContext blocks for d or until the context is cancelled. It does not
// hold an OS thread, so backoff delays never stall other partition workers.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
