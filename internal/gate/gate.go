package gate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultPermits is the permit count used for gated families unless configured otherwise.
const DefaultPermits = 3

// ErrReleaseWithoutAcquire is returned when Release is called with no permit held.
var ErrReleaseWithoutAcquire = errors.New("gate: release without matching acquire")

// Gate is a counting semaphore with monitoring counters.
type Gate struct {
	permits int
	slots   chan struct{}

	acquired atomic.Int64
	rejected atomic.Int64
}

// Stats is a point-in-time view of a gate.
type Stats struct {
	Capacity  int   `json:"capacity"`
	Available int   `json:"available"`
	InUse     int   `json:"in_use"`
	Acquired  int64 `json:"acquired_total"`
	Rejected  int64 `json:"rejected_total"`
}

// New creates a gate with the given number of permits.
func New(permits int) (*Gate, error) {
	if permits <= 0 {
		return nil, fmt.Errorf("gate: permits must be positive, got %d", permits)
	}
	return &Gate{
		permits: permits,
		slots:   make(chan struct{}, permits),
	}, nil
}

// Acquire blocks until a permit is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	// Prefer a free slot even if ctx is already done.
	select {
	case g.slots <- struct{}{}:
		g.acquired.Add(1)
		return nil
	default:
	}

	select {
	case g.slots <- struct{}{}:
		g.acquired.Add(1)
		return nil
	case <-ctx.Done():
		g.rejected.Add(1)
		return fmt.Errorf("gate: acquire permit: %w", ctx.Err())
	}
}

// TryAcquire takes a permit without blocking and reports whether it succeeded.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		g.acquired.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a permit to the gate.
func (g *Gate) Release() error {
	select {
	case <-g.slots:
		return nil
	default:
		return ErrReleaseWithoutAcquire
	}
}

// AvailablePermits returns the number of permits not currently held.
func (g *Gate) AvailablePermits() int {
	return g.permits - len(g.slots)
}

// Capacity returns the configured permit count.
func (g *Gate) Capacity() int {
	return g.permits
}

// Stats returns the gate's current counters.
func (g *Gate) Stats() Stats {
	inUse := len(g.slots)
	return Stats{
		Capacity:  g.permits,
		Available: g.permits - inUse,
		InUse:     inUse,
		Acquired:  g.acquired.Load(),
		Rejected:  g.rejected.Load(),
	}
}
