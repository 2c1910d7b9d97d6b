package job

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// State is the stored lifecycle state of a job.
type State string

// Possible job states. Succeeded and FailedPermanent are terminal.
const (
	StateReady           State = "ready"
	StateLeased          State = "leased"
	StateSucceeded       State = "succeeded"
	StateFailedRetryable State = "failed_retryable"
	StateFailedPermanent State = "failed_permanent"
)

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailedPermanent
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateReady, StateLeased, StateSucceeded, StateFailedRetryable, StateFailedPermanent:
		return true
	}
	return false
}

// AllStates returns every state in lifecycle order.
func AllStates() []State {
	return []State{StateReady, StateLeased, StateFailedRetryable, StateSucceeded, StateFailedPermanent}
}

// DefaultMaxAttempts is the retry budget applied when the producer does not set one.
const DefaultMaxAttempts = 5

// Payload is handler-specific data. The orchestrator never interprets it;
// stores persist it as JSON.
type Payload map[string]any

// Job is the unit of background work.
type Job struct {
	ID          uuid.UUID
	Type        Type
	Queue       Queue
	Payload     Payload
	Priority    int
	State       State
	ScheduledAt time.Time
	Attempt     int
	MaxAttempts int

	LeasedBy       string
	LeasedAt       *time.Time
	LeaseExpiresAt *time.Time

	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Seq is the store-assigned insertion sequence, the last ordering tie-break.
	Seq int64
}

// Lease identifies one worker's claim on one execution attempt of a job.
// Attempt doubles as the lease generation: every lease increments it, so a
// lease token from an earlier attempt never matches the current row.
type Lease struct {
	JobID     uuid.UUID
	WorkerID  string
	Attempt   int
	ExpiresAt time.Time
}

// Lease returns the lease token for the job's current lease.
// The zero Lease is returned when the job is not leased.
func (j *Job) Lease() Lease {
	if j.State != StateLeased || j.LeaseExpiresAt == nil {
		return Lease{}
	}
	return Lease{
		JobID:     j.ID,
		WorkerID:  j.LeasedBy,
		Attempt:   j.Attempt,
		ExpiresAt: *j.LeaseExpiresAt,
	}
}

// LeaseExpired reports whether the job holds a lease that has expired at now.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.State == StateLeased && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// Leasable reports whether the job is eligible for LeaseBatch at now.
// Stores implement the same rule in SQL; this is the reference form.
func (j *Job) Leasable(now time.Time) bool {
	if j.ScheduledAt.After(now) || j.Attempt >= j.MaxAttempts {
		return false
	}
	switch j.State {
	case StateReady, StateFailedRetryable:
		return true
	case StateLeased:
		return j.LeaseExpired(now)
	}
	return false
}

// EnqueueOptions are the producer's optional overrides.
type EnqueueOptions struct {
	// Priority overrides the type's default priority. Higher runs first.
	Priority *int

	// ScheduledAt delays the job until the given time.
	ScheduledAt *time.Time

	// MaxAttempts overrides DefaultMaxAttempts.
	MaxAttempts *int
}

// SortByLeaseOrder sorts jobs by priority DESC, scheduled_at ASC, seq ASC,
// the order in which LeaseBatch hands them out.
func SortByLeaseOrder(jobs []*Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		x, y := jobs[a], jobs[b]
		if x.Priority != y.Priority {
			return x.Priority > y.Priority
		}
		if !x.ScheduledAt.Equal(y.ScheduledAt) {
			return x.ScheduledAt.Before(y.ScheduledAt)
		}
		return x.Seq < y.Seq
	})
}
