package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// MockJobStore is an in-memory Store for tests. It follows the same
// eligibility, ordering and lease-guard rules as the SQL stores. The Fn
// fields, when set, replace the corresponding method.
type MockJobStore struct {
	mutex sync.Mutex
	jobs  map[uuid.UUID]*Job
	seq   int64

	LeaseDuration time.Duration
	Now           func() time.Time

	InsertFn        func(ctx context.Context, j *Job) error
	LeaseBatchFn    func(ctx context.Context, queue Queue, workerID string, limit int, now time.Time) ([]*Job, error)
	MarkSucceededFn func(ctx context.Context, lease Lease) error
	MarkFailedFn    func(ctx context.Context, lease Lease, reason string, nextDelay time.Duration) (State, error)
	CountByStateFn  func(ctx context.Context, queue Queue) (map[State]int, error)
}

// NewMockJobStore creates an empty store with a one minute lease duration.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:          make(map[uuid.UUID]*Job),
		LeaseDuration: time.Minute,
		Now:           time.Now,
	}
}

// Insert implements Store.
func (s *MockJobStore) Insert(ctx context.Context, j *Job) error {
	if s.InsertFn != nil {
		return s.InsertFn(ctx, j)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("insert job %s: duplicate id", j.ID)
	}
	s.seq++
	j.Seq = s.seq
	j.State = StateReady
	j.Attempt = 0
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	stored := *j
	s.jobs[j.ID] = &stored
	return nil
}

// LeaseBatch implements Store.
func (s *MockJobStore) LeaseBatch(ctx context.Context, queue Queue, workerID string, limit int, now time.Time) ([]*Job, error) {
	if s.LeaseBatchFn != nil {
		return s.LeaseBatchFn(ctx, queue, workerID, limit, now)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var eligible []*Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.LeaseExpired(now) && j.Attempt >= j.MaxAttempts {
			j.State = StateFailedPermanent
			j.LeasedBy, j.LeasedAt, j.LeaseExpiresAt = "", nil, nil
			j.LastError = ExpiredFinalLeaseReason
			j.UpdatedAt = now
			continue
		}
		if j.Leasable(now) {
			eligible = append(eligible, j)
		}
	}
	SortByLeaseOrder(eligible)
	if limit >= 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	leased := make([]*Job, 0, len(eligible))
	for _, j := range eligible {
		at := now
		expires := now.Add(s.LeaseDuration)
		j.State = StateLeased
		j.LeasedBy = workerID
		j.LeasedAt = &at
		j.LeaseExpiresAt = &expires
		j.Attempt++
		j.UpdatedAt = now

		c := *j
		leased = append(leased, &c)
	}
	return leased, nil
}

// current returns the row lease still owns. Callers hold the mutex.
func (s *MockJobStore) current(lease Lease) (*Job, error) {
	j, ok := s.jobs[lease.JobID]
	if !ok || j.State != StateLeased || j.LeasedBy != lease.WorkerID || j.Attempt != lease.Attempt {
		return nil, fmt.Errorf("job %s attempt %d: %w", lease.JobID, lease.Attempt, ErrLeaseConflict)
	}
	return j, nil
}

// MarkSucceeded implements Store.
func (s *MockJobStore) MarkSucceeded(ctx context.Context, lease Lease) error {
	if s.MarkSucceededFn != nil {
		return s.MarkSucceededFn(ctx, lease)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, err := s.current(lease)
	if err != nil {
		return err
	}
	j.State = StateSucceeded
	j.LeasedBy, j.LeasedAt, j.LeaseExpiresAt = "", nil, nil
	j.UpdatedAt = s.Now()
	return nil
}

// MarkFailed implements Store.
func (s *MockJobStore) MarkFailed(ctx context.Context, lease Lease, reason string, nextDelay time.Duration) (State, error) {
	if s.MarkFailedFn != nil {
		return s.MarkFailedFn(ctx, lease, reason, nextDelay)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, err := s.current(lease)
	if err != nil {
		return "", err
	}
	now := s.Now()
	if nextDelay < MinRetryDelay {
		nextDelay = MinRetryDelay
	}

	j.LastError = reason
	j.LeasedBy, j.LeasedAt, j.LeaseExpiresAt = "", nil, nil
	j.UpdatedAt = now
	if j.Attempt < j.MaxAttempts {
		j.State = StateFailedRetryable
		j.ScheduledAt = now.Add(nextDelay)
	} else {
		j.State = StateFailedPermanent
	}
	return j.State, nil
}

// MarkFailedPermanent implements Store.
func (s *MockJobStore) MarkFailedPermanent(ctx context.Context, lease Lease, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, err := s.current(lease)
	if err != nil {
		return err
	}
	j.State = StateFailedPermanent
	j.LastError = reason
	j.LeasedBy, j.LeasedAt, j.LeaseExpiresAt = "", nil, nil
	j.UpdatedAt = s.Now()
	return nil
}

// Get implements Store.
func (s *MockJobStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	c := *j
	return &c, nil
}

// CountByState implements Store.
func (s *MockJobStore) CountByState(ctx context.Context, queue Queue) (map[State]int, error) {
	if s.CountByStateFn != nil {
		return s.CountByStateFn(ctx, queue)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	counts := make(map[State]int)
	for _, j := range s.jobs {
		if j.Queue == queue {
			counts[j.State]++
		}
	}
	return counts, nil
}

// Len returns the number of stored jobs.
func (s *MockJobStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.jobs)
}

// Put stores j as-is, bypassing Insert's defaults. Used to seed leased or
// scheduled rows in tests.
func (s *MockJobStore) Put(j *Job) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if j.Seq == 0 {
		s.seq++
		j.Seq = s.seq
	}
	c := *j
	s.jobs[j.ID] = &c
}
