package sqlite_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
	"github.com/phrazzld/scry-jobs/internal/platform/sqlite"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/phrazzld/scry-jobs/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newStore(t *testing.T, lease time.Duration) (*sqlite.SQLiteJobStore, string) {
	t.Helper()
	path := testdb.SQLitePath(t)
	db := openDB(t, path)
	require.NoError(t, sqlite.Migrate(context.Background(), db, store.MigrateUp, logger.Discard()))
	return sqlite.NewSQLiteJobStore(db, lease), path
}

func insertJob(t *testing.T, s job.Store, queue job.Queue, priority int, scheduled time.Time, maxAttempts int) uuid.UUID {
	t.Helper()
	j := &job.Job{
		ID:          uuid.New(),
		Type:        job.TypeAITagging,
		Queue:       queue,
		Payload:     job.Payload{"memo_id": "m-1"},
		Priority:    priority,
		ScheduledAt: scheduled,
		MaxAttempts: maxAttempts,
	}
	require.NoError(t, s.Insert(context.Background(), j))
	return j.ID
}

func TestSQLiteJobStore_InsertAndGet(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, time.Minute)
	ctx := context.Background()
	scheduled := time.Now().Add(-time.Second)
	id := insertJob(t, s, job.QueueDefault, 5, scheduled, 0)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.TypeAITagging, got.Type)
	assert.Equal(t, job.QueueDefault, got.Queue)
	assert.Equal(t, job.StateReady, got.State)
	assert.Equal(t, 0, got.Attempt)
	assert.Equal(t, job.DefaultMaxAttempts, got.MaxAttempts)
	assert.Equal(t, "m-1", got.Payload["memo_id"])
	assert.True(t, got.ScheduledAt.Equal(scheduled))
	assert.Nil(t, got.LeaseExpiresAt)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	dup := &job.Job{ID: id, Type: job.TypeAITagging, Queue: job.QueueDefault, ScheduledAt: scheduled}
	assert.ErrorIs(t, s.Insert(ctx, dup), store.ErrDuplicate)
}

func TestSQLiteJobStore_LeaseOrder(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, time.Minute)
	base := time.Now().Add(-time.Minute)

	var ids []uuid.UUID
	for _, p := range []int{1, 5, 1, 3, 5} {
		ids = append(ids, insertJob(t, s, job.QueueDefault, p, base, 3))
	}

	jobs, err := s.LeaseBatch(context.Background(), job.QueueDefault, "w1", 10, time.Now())
	require.NoError(t, err)
	require.Len(t, jobs, 5)

	want := []uuid.UUID{ids[1], ids[4], ids[3], ids[0], ids[2]}
	for i, j := range jobs {
		assert.Equal(t, want[i], j.ID, "position %d", i)
		assert.Equal(t, 1, j.Attempt)
		assert.Equal(t, job.StateLeased, j.State)
		assert.Equal(t, "w1", j.LeasedBy)
	}
}

func TestSQLiteJobStore_LeaseRespectsScheduleQueueAndLimit(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, time.Minute)
	ctx := context.Background()
	now := time.Now()

	insertJob(t, s, job.QueueLow, 0, now.Add(time.Hour), 3)
	insertJob(t, s, job.QueueHigh, 0, now.Add(-time.Second), 3)
	for i := 0; i < 3; i++ {
		insertJob(t, s, job.QueueLow, 0, now.Add(-time.Second), 3)
	}

	jobs, err := s.LeaseBatch(ctx, job.QueueLow, "w1", 2, now)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.LeaseBatch(ctx, job.QueueLow, "w1", 10, now)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "future job and other queue must not be leased")

	jobs, err = s.LeaseBatch(ctx, job.QueueLow, "w1", 10, now)
	require.NoError(t, err)
	assert.Empty(t, jobs, "live leases are not re-leased")
}

func TestSQLiteJobStore_ExpiredLeaseIsStolenAndGuarded(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, time.Second)
	ctx := context.Background()
	id := insertJob(t, s, job.QueueHigh, 0, time.Now().Add(-time.Second), 3)

	now := time.Now()
	first, err := s.LeaseBatch(ctx, job.QueueHigh, "worker-a", 1, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.LeaseBatch(ctx, job.QueueHigh, "worker-b", 1, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Attempt)
	assert.Equal(t, "worker-b", second[0].LeasedBy)

	assert.ErrorIs(t, s.MarkSucceeded(ctx, first[0].Lease()), job.ErrLeaseConflict)
	_, err = s.MarkFailed(ctx, first[0].Lease(), "late", time.Second)
	assert.ErrorIs(t, err, job.ErrLeaseConflict)
	assert.ErrorIs(t, s.MarkFailedPermanent(ctx, first[0].Lease(), "late"), job.ErrLeaseConflict)

	require.NoError(t, s.MarkSucceeded(ctx, second[0].Lease()))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, got.State)
	assert.Empty(t, got.LeasedBy)
	assert.Nil(t, got.LeaseExpiresAt)
}

func TestSQLiteJobStore_MarkFailedSchedulesRetryThenFailsPermanently(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, time.Minute)
	ctx := context.Background()
	id := insertJob(t, s, job.QueueBulk, 0, time.Now().Add(-time.Second), 2)

	leased, err := s.LeaseBatch(ctx, job.QueueBulk, "w1", 1, time.Now())
	require.NoError(t, err)
	require.Len(t, leased, 1)

	failedAt := time.Now()
	state, err := s.MarkFailed(ctx, leased[0].Lease(), "boom", 0)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailedRetryable, state)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.After(failedAt), "retry must be scheduled strictly later")
	assert.Equal(t, "boom", got.LastError)

	early, err := s.LeaseBatch(ctx, job.QueueBulk, "w1", 1, failedAt)
	require.NoError(t, err)
	assert.Empty(t, early)

	leased, err = s.LeaseBatch(ctx, job.QueueBulk, "w1", 1, got.ScheduledAt)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 2, leased[0].Attempt)

	state, err = s.MarkFailed(ctx, leased[0].Lease(), "boom again", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailedPermanent, state)

	counts, err := s.CountByState(ctx, job.QueueBulk)
	require.NoError(t, err)
	assert.Equal(t, map[job.State]int{job.StateFailedPermanent: 1}, counts)
}

func TestSQLiteJobStore_SweepsExpiredFinalAttempt(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, time.Second)
	ctx := context.Background()
	id := insertJob(t, s, job.QueueScreenshot, 0, time.Now().Add(-time.Second), 1)

	now := time.Now()
	leased, err := s.LeaseBatch(ctx, job.QueueScreenshot, "crashed", 1, now)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	again, err := s.LeaseBatch(ctx, job.QueueScreenshot, "w2", 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailedPermanent, got.State)
	assert.Equal(t, job.ExpiredFinalLeaseReason, got.LastError)
	assert.Equal(t, 1, got.Attempt)
}

func TestSQLiteJobStore_ConcurrentLeasesAcrossConnectionsNeverOverlap(t *testing.T) {
	t.Parallel()

	first, path := newStore(t, time.Minute)
	// A second handle on the same file stands in for another worker process.
	second := sqlite.NewSQLiteJobStore(openDB(t, path), time.Minute)

	const total = 60
	for i := 0; i < total; i++ {
		insertJob(t, first, job.QueueDefault, i%4, time.Now().Add(-time.Second), 3)
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		s := first
		if w%2 == 1 {
			s = second
		}
		wg.Add(1)
		go func(s *sqlite.SQLiteJobStore, worker string) {
			defer wg.Done()
			for {
				jobs, err := s.LeaseBatch(context.Background(), job.QueueDefault, worker, 4, time.Now())
				if err != nil {
					t.Error(err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}(s, uuid.NewString())
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s leased %d times", id, n)
	}
}

func TestSQLiteMigrations(t *testing.T) {
	t.Parallel()

	db := openDB(t, testdb.SQLitePath(t))
	ctx := context.Background()

	require.NoError(t, sqlite.Migrate(ctx, db, store.MigrateUp, logger.Discard()))
	status, err := sqlite.MigrationStatus(ctx, db)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, int64(1), status[0].Version)
	assert.True(t, status[0].Applied)

	require.NoError(t, sqlite.Migrate(ctx, db, store.MigrateDown, logger.Discard()))
	status, err = sqlite.MigrationStatus(ctx, db)
	require.NoError(t, err)
	assert.False(t, status[0].Applied)

	assert.Error(t, sqlite.Migrate(ctx, db, "sideways", logger.Discard()))
}
