package ingest

import (
	"context"
	"fmt"
)

// Gate bounds the number of items a worker may have in flight or scheduled
// for retry. When full, Acquire blocks the consumption loop, which in turn
// pauses polling for the partition: records are delayed, never dropped.
type Gate struct {
	sem chan struct{}
}

// NewGate creates a gate admitting at most capacity items.
func NewGate(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be greater than 0")
	}
	return &Gate{sem: make(chan struct{}, capacity)}, nil
}

// Acquire blocks until a slot is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire. It must be called exactly once per
// successful Acquire, at the item's terminal outcome.
func (g *Gate) Release() {
	select {
	case <-g.sem:
	default:
		panic("gate: Release without matching Acquire")
	}
}

// InFlight returns the number of currently held slots.
func (g *Gate) InFlight() int {
	return len(g.sem)
}

// Capacity returns the gate's limit.
func (g *Gate) Capacity() int {
	return cap(g.sem)
}
