package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable queue. Every method is a single atomic transaction.
//
// Implementations must guarantee that no two concurrent LeaseBatch calls,
// from any process, return the same job while its lease is unexpired, and
// that guarded transitions (MarkSucceeded, MarkFailed, MarkFailedPermanent)
// only apply while the caller's lease is still the row's current lease.
type Store interface {
	// Insert persists a new job in StateReady with Attempt 0.
	Insert(ctx context.Context, j *Job) error

	// LeaseBatch leases up to limit eligible jobs of queue for workerID and
	// returns them ordered by priority DESC, scheduled_at ASC, seq ASC.
	// A job is eligible when scheduled_at <= now, attempt < max_attempts and
	// it is ready, failed_retryable, or leased with lease_expires_at < now.
	// Each returned job has Attempt incremented and a fresh lease.
	LeaseBatch(ctx context.Context, queue Queue, workerID string, limit int, now time.Time) ([]*Job, error)

	// MarkSucceeded moves a leased job to StateSucceeded.
	// Returns ErrLeaseConflict if lease is no longer current.
	MarkSucceeded(ctx context.Context, lease Lease) error

	// MarkFailed records a failed attempt. With attempts remaining the job
	// returns to the schedule as StateFailedRetryable at now+nextDelay;
	// otherwise it becomes StateFailedPermanent. The resulting state is returned.
	// Returns ErrLeaseConflict if lease is no longer current.
	MarkFailed(ctx context.Context, lease Lease, reason string, nextDelay time.Duration) (State, error)

	// MarkFailedPermanent ends a leased job without retry.
	// Returns ErrLeaseConflict if lease is no longer current.
	MarkFailedPermanent(ctx context.Context, lease Lease, reason string) error

	// Get returns the job with the given ID or store.ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// CountByState returns the number of jobs of queue in each state.
	CountByState(ctx context.Context, queue Queue) (map[State]int, error)
}

// MinRetryDelay is the smallest delay stores apply when rescheduling a
// failed job, keeping scheduled_at strictly after the failure time.
const MinRetryDelay = time.Second

// ExpiredFinalLeaseReason is recorded when a job's final attempt lost its
// lease without reporting an outcome.
const ExpiredFinalLeaseReason = "lease expired on final attempt"
