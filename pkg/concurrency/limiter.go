// Package concurrency provides semaphore-based concurrency control for
// parallel batch execution.
package concurrency

import (
	"context"
	"sync/atomic"
)

// Stats is a snapshot of limiter activity.
type Stats struct {
	Acquired int64
	Released int64
	Peak     int64
}

// Limiter bounds the number of concurrently running operations and tracks
// basic usage metrics.
type Limiter struct {
	sem      chan struct{}
	active   atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	peak     atomic.Int64
}

// NewLimiter creates a limiter allowing at most maxConcurrent concurrent
// holders. Values below 1 are clamped to 1.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking, reporting whether it succeeded.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return true
	default:
		return false
	}
}

// Release returns a previously acquired slot. Releasing without a matching
// acquire panics.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.released.Add(1)
		l.active.Add(-1)
	default:
		panic("concurrency: Release without matching Acquire")
	}
}

// Active returns the number of currently held slots.
func (l *Limiter) Active() int64 {
	return l.active.Load()
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() Stats {
	return Stats{
		Acquired: l.acquired.Load(),
		Released: l.released.Load(),
		Peak:     l.peak.Load(),
	}
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
