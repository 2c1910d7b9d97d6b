package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Circuit breaker settings for the lease poll.
const (
	breakerTripAfter   = 5
	breakerOpenTimeout = 30 * time.Second
)

// RunWorkerLoop polls queue every pollInterval, leases up to BatchSize jobs
// for workerID and dispatches them concurrently. Each tick waits for its
// dispatches before the next lease, and a gated family leases no more jobs
// than its gate has free permits.
//
// Store failures are logged and retried on the next tick; repeated failures
// open a circuit breaker that skips polls until the store recovers. When
// ctx is cancelled the loop stops leasing, waits for in-flight dispatches
// and returns nil.
func (o *Orchestrator) RunWorkerLoop(ctx context.Context, queue Queue, workerID string, pollInterval time.Duration) error {
	if workerID == "" {
		return errors.New("run worker loop: worker id is required")
	}
	if _, err := ParseQueue(string(queue)); err != nil {
		return fmt.Errorf("run worker loop: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = o.config.PollInterval
	}

	log := o.logger.With("queue", queue, "worker_id", workerID)
	breaker := o.newBreaker(queue)

	log.Info("worker loop started", "poll_interval", pollInterval, "batch_size", o.config.BatchSize)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		o.pollOnce(ctx, breaker, queue, workerID)

		select {
		case <-ctx.Done():
			log.Info("worker loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce leases one batch and blocks until every leased job is dispatched.
func (o *Orchestrator) pollOnce(ctx context.Context, breaker *gobreaker.CircuitBreaker, queue Queue, workerID string) {
	if ctx.Err() != nil {
		return
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		return o.store.LeaseBatch(ctx, queue, workerID, o.leaseLimit(queue), o.now().UTC())
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			o.logger.Debug("lease poll skipped, store circuit open", "queue", queue)
		default:
			o.logger.Warn("lease poll failed", "queue", queue, "worker_id", workerID, "error", err)
		}
		return
	}

	jobs, _ := result.([]*Job)
	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			o.DispatchOne(ctx, j)
		}(j)
	}
	wg.Wait()
}

// leaseLimit caps a gated family's batch at the gate's free permits, and
// at least one, so leases are not spent waiting for a permit.
func (o *Orchestrator) leaseLimit(queue Queue) int {
	limit := o.config.BatchSize
	g, ok := o.gates.For(string(queue))
	if !ok {
		return limit
	}
	if free := max(g.AvailablePermits(), 1); free < limit {
		limit = free
	}
	return limit
}

func (o *Orchestrator) newBreaker(queue Queue) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "lease-" + string(queue),
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("store circuit breaker changed state",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
}

// RunWorkers runs one worker loop per queue until ctx is cancelled.
func (o *Orchestrator) RunWorkers(ctx context.Context, queues []Queue, workerID string) error {
	if len(queues) == 0 {
		return errors.New("run workers: no queues given")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		g.Go(func() error {
			return o.RunWorkerLoop(gctx, q, workerID, o.config.PollInterval)
		})
	}
	return g.Wait()
}
