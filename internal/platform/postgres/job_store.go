package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// DefaultLeaseDuration is how long a leased job stays owned by its worker.
const DefaultLeaseDuration = 5 * time.Minute

const jobColumns = `id, seq, type, queue, payload, priority, state, scheduled_at, attempt,
	max_attempts, leased_by, leased_at, lease_expires_at, last_error, created_at, updated_at`

const (
	sweepExpiredFinalSQL = `
		UPDATE jobs
		SET state = 'failed_permanent', leased_by = NULL, leased_at = NULL,
		    lease_expires_at = NULL, last_error = $2, updated_at = $3
		WHERE queue = $1 AND state = 'leased' AND lease_expires_at < $3
		  AND attempt >= max_attempts`

	leaseBatchSQL = `
		WITH candidates AS (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND scheduled_at <= $2
			  AND attempt < max_attempts
			  AND (state IN ('ready', 'failed_retryable')
			       OR (state = 'leased' AND lease_expires_at < $2))
			ORDER BY priority DESC, scheduled_at ASC, seq ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs AS j
		SET state = 'leased', leased_by = $4, leased_at = $2, lease_expires_at = $5,
		    attempt = j.attempt + 1, updated_at = $2
		FROM candidates c
		WHERE j.id = c.id
		RETURNING j.id, j.seq, j.type, j.queue, j.payload, j.priority, j.state, j.scheduled_at,
		          j.attempt, j.max_attempts, j.leased_by, j.leased_at, j.lease_expires_at,
		          j.last_error, j.created_at, j.updated_at`

	leaseGuard = `id = $1 AND state = 'leased' AND leased_by = $2 AND attempt = $3`
)

// PostgresJobStore implements job.Store on PostgreSQL.
type PostgresJobStore struct {
	db            *sql.DB
	leaseDuration time.Duration
	now           func() time.Time
}

var _ job.Store = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a store over db. A non-positive leaseDuration
// selects DefaultLeaseDuration.
func NewPostgresJobStore(db *sql.DB, leaseDuration time.Duration) *PostgresJobStore {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	return &PostgresJobStore{
		db:            db,
		leaseDuration: leaseDuration,
		now:           time.Now,
	}
}

// Insert persists a new job in the ready state.
func (s *PostgresJobStore) Insert(ctx context.Context, j *job.Job) error {
	log := logger.FromContext(ctx)

	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", store.ErrInvalidEntity, err)
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = job.DefaultMaxAttempts
	}
	now := s.now().UTC()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, type, queue, payload, priority, state, scheduled_at, attempt,
		                  max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'ready', $6, 0, $7, $8, $8)
		RETURNING seq`,
		j.ID, string(j.Type), string(j.Queue), string(payload), j.Priority,
		j.ScheduledAt.UTC(), j.MaxAttempts, now,
	).Scan(&j.Seq)
	if err != nil {
		log.Error("failed to insert job",
			"job_id", j.ID,
			"job_type", j.Type,
			"error", err)
		return store.NewStoreError("job", "insert", "failed to insert job", MapError(err))
	}

	j.State = job.StateReady
	j.Attempt = 0
	j.CreatedAt, j.UpdatedAt = now, now
	return nil
}

// LeaseBatch leases up to limit eligible jobs of queue.
func (s *PostgresJobStore) LeaseBatch(
	ctx context.Context,
	queue job.Queue,
	workerID string,
	limit int,
	now time.Time,
) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	expires := now.Add(s.leaseDuration)

	var leased []*job.Job
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		swept, err := tx.ExecContext(ctx, sweepExpiredFinalSQL, string(queue), job.ExpiredFinalLeaseReason, now)
		if err != nil {
			return fmt.Errorf("sweep expired final leases: %w", err)
		}
		if n, _ := swept.RowsAffected(); n > 0 {
			logger.FromContext(ctx).Warn("failed jobs whose final attempt lost its lease",
				"queue", queue,
				"count", n)
		}

		rows, err := tx.QueryContext(ctx, leaseBatchSQL, string(queue), now, limit, workerID, expires)
		if err != nil {
			return fmt.Errorf("lease: %w", err)
		}
		leased, err = scanJobs(rows)
		return err
	})
	if err != nil {
		return nil, store.NewStoreError("job", "lease", "failed to lease batch", MapError(err))
	}

	// UPDATE ... RETURNING does not preserve the CTE's order.
	job.SortByLeaseOrder(leased)
	return leased, nil
}

// MarkSucceeded records a successful attempt.
func (s *PostgresJobStore) MarkSucceeded(ctx context.Context, lease job.Lease) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'succeeded', leased_by = NULL, leased_at = NULL,
		    lease_expires_at = NULL, updated_at = $4
		WHERE `+leaseGuard,
		lease.JobID, lease.WorkerID, lease.Attempt, s.now().UTC(),
	)
	if err != nil {
		return store.NewStoreError("job", "mark_succeeded", "failed to update job", MapError(err))
	}
	return checkLease(res, lease)
}

// MarkFailed records a failed attempt, rescheduling it when attempts remain.
func (s *PostgresJobStore) MarkFailed(
	ctx context.Context,
	lease job.Lease,
	reason string,
	nextDelay time.Duration,
) (job.State, error) {
	if nextDelay < job.MinRetryDelay {
		nextDelay = job.MinRetryDelay
	}
	now := s.now().UTC()

	var state string
	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = CASE WHEN attempt < max_attempts THEN 'failed_retryable' ELSE 'failed_permanent' END,
		    scheduled_at = CASE WHEN attempt < max_attempts THEN $5::timestamptz ELSE scheduled_at END,
		    last_error = $4, leased_by = NULL, leased_at = NULL, lease_expires_at = NULL,
		    updated_at = $6
		WHERE `+leaseGuard+`
		RETURNING state`,
		lease.JobID, lease.WorkerID, lease.Attempt, reason, now.Add(nextDelay), now,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", leaseConflict(lease)
	}
	if err != nil {
		return "", store.NewStoreError("job", "mark_failed", "failed to update job", MapError(err))
	}
	return job.State(state), nil
}

// MarkFailedPermanent ends a leased job without retry.
func (s *PostgresJobStore) MarkFailedPermanent(ctx context.Context, lease job.Lease, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'failed_permanent', last_error = $4, leased_by = NULL, leased_at = NULL,
		    lease_expires_at = NULL, updated_at = $5
		WHERE `+leaseGuard,
		lease.JobID, lease.WorkerID, lease.Attempt, reason, s.now().UTC(),
	)
	if err != nil {
		return store.NewStoreError("job", "mark_failed_permanent", "failed to update job", MapError(err))
	}
	return checkLease(res, lease)
}

// Get returns one job by ID.
func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, store.NewStoreError("job", "get", "failed to query job", MapError(err))
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, store.NewStoreError("job", "get", "failed to read job", MapError(err))
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrJobNotFound)
	}
	return jobs[0], nil
}

// CountByState returns the number of jobs of queue per state.
func (s *PostgresJobStore) CountByState(ctx context.Context, queue job.Queue) (map[job.State]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM jobs WHERE queue = $1 GROUP BY state`, string(queue))
	if err != nil {
		return nil, store.NewStoreError("job", "count", "failed to count jobs", MapError(err))
	}
	counts, err := scanCounts(rows)
	if err != nil {
		return nil, store.NewStoreError("job", "count", "failed to read counts", MapError(err))
	}
	return counts, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresJobStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return MapError(err)
	}
	return nil
}

func checkLease(res sql.Result, lease job.Lease) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return leaseConflict(lease)
	}
	return nil
}

func leaseConflict(lease job.Lease) error {
	return fmt.Errorf("job %s attempt %d worker %s: %w", lease.JobID, lease.Attempt, lease.WorkerID, job.ErrLeaseConflict)
}

func scanJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer func() { _ = rows.Close() }()

	var jobs []*job.Job
	for rows.Next() {
		var (
			j          job.Job
			typ, queue string
			state      string
			payload    []byte
			leasedBy   sql.NullString
			leasedAt   sql.NullTime
			expiresAt  sql.NullTime
			lastError  sql.NullString
		)
		if err := rows.Scan(
			&j.ID, &j.Seq, &typ, &queue, &payload, &j.Priority, &state, &j.ScheduledAt,
			&j.Attempt, &j.MaxAttempts, &leasedBy, &leasedAt, &expiresAt, &lastError,
			&j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		j.Type, j.Queue, j.State = job.Type(typ), job.Queue(queue), job.State(state)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &j.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
			}
		}
		j.LeasedBy = leasedBy.String
		j.LastError = lastError.String
		if leasedAt.Valid {
			t := leasedAt.Time.UTC()
			j.LeasedAt = &t
		}
		if expiresAt.Valid {
			t := expiresAt.Time.UTC()
			j.LeaseExpiresAt = &t
		}
		j.ScheduledAt = j.ScheduledAt.UTC()
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanCounts(rows *sql.Rows) (map[job.State]int, error) {
	defer func() { _ = rows.Close() }()

	counts := make(map[job.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[job.State(state)] = n
	}
	return counts, rows.Err()
}
