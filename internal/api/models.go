package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/gate"
	"github.com/phrazzld/scry-jobs/internal/job"
)

// EnqueueRequest is the body of POST /jobs.
type EnqueueRequest struct {
	Type        string         `json:"type"         validate:"required"`
	Payload     map[string]any `json:"payload"`
	Priority    *int           `json:"priority"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
	MaxAttempts *int           `json:"max_attempts" validate:"omitempty,gte=1,lte=100"`
}

// EnqueueResponse reports the ID of an accepted job.
type EnqueueResponse struct {
	ID uuid.UUID `json:"id"`
}

// JobResponse is the public view of a stored job.
type JobResponse struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"type"`
	Queue          string     `json:"queue"`
	State          string     `json:"state"`
	Priority       int        `json:"priority"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	LeasedBy       string     `json:"leased_by,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// GatesResponse is the body of GET /gates.
type GatesResponse struct {
	Gates map[string]gate.Stats `json:"gates"`
}

// QueueStatsResponse is the body of GET /queues/{queue}/stats.
type QueueStatsResponse struct {
	Queue  string         `json:"queue"`
	States map[string]int `json:"states"`
	Total  int            `json:"total"`
}

func jobToResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:             j.ID,
		Type:           string(j.Type),
		Queue:          string(j.Queue),
		State:          string(j.State),
		Priority:       j.Priority,
		Attempt:        j.Attempt,
		MaxAttempts:    j.MaxAttempts,
		ScheduledAt:    j.ScheduledAt,
		LeasedBy:       j.LeasedBy,
		LeaseExpiresAt: j.LeaseExpiresAt,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
