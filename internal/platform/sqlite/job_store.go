package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// DefaultLeaseDuration is how long a leased job stays owned by its worker.
const DefaultLeaseDuration = 5 * time.Minute

const jobColumns = `id, seq, type, queue, payload, priority, state, scheduled_at, attempt,
	max_attempts, leased_by, leased_at, lease_expires_at, last_error, created_at, updated_at`

const leaseGuard = `id = ? AND state = 'leased' AND leased_by = ? AND attempt = ?`

// SQLiteJobStore implements job.Store on SQLite.
type SQLiteJobStore struct {
	db            *sql.DB
	leaseDuration time.Duration
	now           func() time.Time
}

var _ job.Store = (*SQLiteJobStore)(nil)

// NewSQLiteJobStore creates a store over a database opened with Open.
// A non-positive leaseDuration selects DefaultLeaseDuration.
func NewSQLiteJobStore(db *sql.DB, leaseDuration time.Duration) *SQLiteJobStore {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	return &SQLiteJobStore{db: db, leaseDuration: leaseDuration, now: time.Now}
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Insert persists a new job in the ready state.
func (s *SQLiteJobStore) Insert(ctx context.Context, j *job.Job) error {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, queue, payload, priority, state, scheduled_at, attempt,
		                  max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'ready', ?, 0, ?, ?, ?)`,
		j.ID.String(), string(j.Type), string(j.Queue), string(payload), j.Priority,
		nanos(j.ScheduledAt), j.MaxAttempts, nanos(now), nanos(now),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert job",
			"job_id", j.ID,
			"job_type", j.Type,
			"error", err)
		return store.NewStoreError("job", "insert", "failed to insert job", MapError(err))
	}
	if j.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("read job sequence: %w", err)
	}

	j.State = job.StateReady
	j.Attempt = 0
	j.CreatedAt, j.UpdatedAt = now, now
	return nil
}

// LeaseBatch leases up to limit eligible jobs of queue. The whole operation
// runs in one immediate transaction, so it holds the write lock from the
// candidate select through the last update.
func (s *SQLiteJobStore) LeaseBatch(
	ctx context.Context,
	queue job.Queue,
	workerID string,
	limit int,
	now time.Time,
) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	at := nanos(now)
	expires := nanos(now.Add(s.leaseDuration))

	var leased []*job.Job
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		swept, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET state = 'failed_permanent', leased_by = NULL, leased_at = NULL,
			    lease_expires_at = NULL, last_error = ?, updated_at = ?
			WHERE queue = ? AND state = 'leased' AND lease_expires_at < ?
			  AND attempt >= max_attempts`,
			job.ExpiredFinalLeaseReason, at, string(queue), at,
		)
		if err != nil {
			return fmt.Errorf("sweep expired final leases: %w", err)
		}
		if n, _ := swept.RowsAffected(); n > 0 {
			logger.FromContext(ctx).Warn("failed jobs whose final attempt lost its lease",
				"queue", queue,
				"count", n)
		}

		ids, err := selectCandidates(ctx, tx, queue, at, limit)
		if err != nil {
			return err
		}

		for _, id := range ids {
			rows, err := tx.QueryContext(ctx, `
				UPDATE jobs
				SET state = 'leased', leased_by = ?, leased_at = ?, lease_expires_at = ?,
				    attempt = attempt + 1, updated_at = ?
				WHERE id = ? AND attempt < max_attempts
				  AND (state IN ('ready', 'failed_retryable')
				       OR (state = 'leased' AND lease_expires_at < ?))
				RETURNING `+jobColumns,
				workerID, at, expires, at, id, at,
			)
			if err != nil {
				return fmt.Errorf("lease job %s: %w", id, err)
			}
			jobs, err := scanJobs(rows)
			if err != nil {
				return err
			}
			leased = append(leased, jobs...)
		}
		return nil
	})
	if err != nil {
		return nil, store.NewStoreError("job", "lease", "failed to lease batch", MapError(err))
	}

	job.SortByLeaseOrder(leased)
	return leased, nil
}

func selectCandidates(ctx context.Context, tx *sql.Tx, queue job.Queue, at int64, limit int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE queue = ?
		  AND scheduled_at <= ?
		  AND attempt < max_attempts
		  AND (state IN ('ready', 'failed_retryable')
		       OR (state = 'leased' AND lease_expires_at < ?))
		ORDER BY priority DESC, scheduled_at ASC, seq ASC
		LIMIT ?`,
		string(queue), at, at, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSucceeded records a successful attempt.
func (s *SQLiteJobStore) MarkSucceeded(ctx context.Context, lease job.Lease) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'succeeded', leased_by = NULL, leased_at = NULL,
		    lease_expires_at = NULL, updated_at = ?
		WHERE `+leaseGuard,
		nanos(s.now()), lease.JobID.String(), lease.WorkerID, lease.Attempt,
	)
	if err != nil {
		return store.NewStoreError("job", "mark_succeeded", "failed to update job", MapError(err))
	}
	return checkLease(res, lease)
}

// MarkFailed records a failed attempt, rescheduling it when attempts remain.
func (s *SQLiteJobStore) MarkFailed(
	ctx context.Context,
	lease job.Lease,
	reason string,
	nextDelay time.Duration,
) (job.State, error) {
	if nextDelay < job.MinRetryDelay {
		nextDelay = job.MinRetryDelay
	}
	now := s.now()

	var state string
	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = CASE WHEN attempt < max_attempts THEN 'failed_retryable' ELSE 'failed_permanent' END,
		    scheduled_at = CASE WHEN attempt < max_attempts THEN ? ELSE scheduled_at END,
		    last_error = ?, leased_by = NULL, leased_at = NULL, lease_expires_at = NULL,
		    updated_at = ?
		WHERE `+leaseGuard+`
		RETURNING state`,
		nanos(now.Add(nextDelay)), reason, nanos(now), lease.JobID.String(), lease.WorkerID, lease.Attempt,
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
func (s *SQLiteJobStore) MarkFailedPermanent(ctx context.Context, lease job.Lease, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'failed_permanent', last_error = ?, leased_by = NULL, leased_at = NULL,
		    lease_expires_at = NULL, updated_at = ?
		WHERE `+leaseGuard,
		reason, nanos(s.now()), lease.JobID.String(), lease.WorkerID, lease.Attempt,
	)
	if err != nil {
		return store.NewStoreError("job", "mark_failed_permanent", "failed to update job", MapError(err))
	}
	return checkLease(res, lease)
}

// Get returns one job by ID.
func (s *SQLiteJobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
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
func (s *SQLiteJobStore) CountByState(ctx context.Context, queue job.Queue) (map[job.State]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM jobs WHERE queue = ? GROUP BY state`, string(queue))
	if err != nil {
		return nil, store.NewStoreError("job", "count", "failed to count jobs", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[job.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, store.NewStoreError("job", "count", "failed to read counts", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("job", "count", "failed to read counts", MapError(err))
	}
	return counts, nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteJobStore) Ping(ctx context.Context) error {
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
			j                   job.Job
			id, typ, queue      string
			state, payload      string
			scheduled           int64
			created, updated    int64
			leasedBy, lastError sql.NullString
			leasedAt, expiresAt sql.NullInt64
		)
		if err := rows.Scan(
			&id, &j.Seq, &typ, &queue, &payload, &j.Priority, &state, &scheduled,
			&j.Attempt, &j.MaxAttempts, &leasedBy, &leasedAt, &expiresAt, &lastError,
			&created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse job id %q: %w", id, err)
		}
		j.ID = parsed
		j.Type, j.Queue, j.State = job.Type(typ), job.Queue(queue), job.State(state)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
			}
		}
		j.ScheduledAt = fromNanos(scheduled)
		j.CreatedAt = fromNanos(created)
		j.UpdatedAt = fromNanos(updated)
		j.LeasedBy = leasedBy.String
		j.LastError = lastError.String
		if leasedAt.Valid {
			t := fromNanos(leasedAt.Int64)
			j.LeasedAt = &t
		}
		if expiresAt.Valid {
			t := fromNanos(expiresAt.Int64)
			j.LeaseExpiresAt = &t
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
