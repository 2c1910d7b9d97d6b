package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/api/shared"
	"github.com/phrazzld/scry-jobs/internal/gate"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
)

// healthCheckTimeout bounds the store ping behind GET /healthz.
const healthCheckTimeout = 2 * time.Second

// JobReader is the read side of the job store used by the ops surface.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
	CountByState(ctx context.Context, queue job.Queue) (map[job.State]int, error)
	Ping(ctx context.Context) error
}

// Enqueuer accepts new jobs. *job.Orchestrator satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, t job.Type, payload job.Payload, opts job.EnqueueOptions) (uuid.UUID, error)
}

// OpsHandler serves health, monitoring and enqueue requests.
type OpsHandler struct {
	store    JobReader
	enqueuer Enqueuer
	gates    *gate.Set
}

// NewOpsHandler creates an OpsHandler. gates may be nil when no family is gated.
func NewOpsHandler(store JobReader, enqueuer Enqueuer, gates *gate.Set) *OpsHandler {
	return &OpsHandler{store: store, enqueuer: enqueuer, gates: gates}
}

// Health handles GET /healthz.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		if !errors.Is(err, job.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", job.ErrStoreUnavailable, err)
		}
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}

// Gates handles GET /gates.
func (h *OpsHandler) Gates(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, GatesResponse{Gates: h.gates.Snapshot()})
}

// QueueStats handles GET /queues/{queue}/stats. Every state is reported,
// including those with no jobs.
func (h *OpsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	queue, err := getPathQueue(r, "queue")
	if err != nil {
		HandleAPIError(w, r, err, "Unknown queue")
		return
	}

	counts, err := h.store.CountByState(r.Context(), queue)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := QueueStatsResponse{Queue: string(queue), States: make(map[string]int, len(job.AllStates()))}
	for _, s := range job.AllStates() {
		resp.States[string(s)] = counts[s]
		resp.Total += counts[s]
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}.
func (h *OpsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "Invalid job ID")
		return
	}

	j, err := h.store.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(j))
}

// EnqueueJob handles POST /jobs. The job is accepted, not run, so the
// response is 202.
func (h *OpsHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err), "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err), SanitizeValidationError(err))
		return
	}

	id, err := h.enqueuer.Enqueue(r.Context(), job.Type(req.Type), job.Payload(req.Payload), job.EnqueueOptions{
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("job enqueued via ops API", "job_id", id, "job_type", req.Type)
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{ID: id})
}
