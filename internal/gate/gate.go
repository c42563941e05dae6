// Package gate provides a bounded admission gate: callers past the
// capacity queue until a slot frees instead of failing.
package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many callers hold a slot at once.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
}

// New creates a gate with the given capacity.
func New(capacity int64) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be positive, got %d", capacity)
	}
	return &Gate{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}, nil
}

// Acquire blocks until a slot is free or ctx ends. The returned
// release function must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// TryAcquire takes a slot without blocking.
func (g *Gate) TryAcquire() (func(), bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { g.sem.Release(1) }, true
}

// Capacity returns the configured slot count.
func (g *Gate) Capacity() int64 {
	return g.capacity
}
