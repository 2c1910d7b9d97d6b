package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Phase distinguishes the two events emitted per dispatch.
type Phase string

// Dispatch phases.
const (
	PhaseStarted  Phase = "started"
	PhaseFinished Phase = "finished"
)

// DispatchEvent describes one dispatch of one leased job.
type DispatchEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Phase    Phase     `json:"phase"`
	JobID    uuid.UUID `json:"job_id"`
	JobType  string    `json:"job_type"`
	Queue    string    `json:"queue"`
	Attempt  int       `json:"attempt"`
	WorkerID string    `json:"worker_id"`

	// Outcome is empty for started events.
	Outcome string `json:"outcome,omitempty"`

	// Error is the redacted failure text, if any.
	Error string `json:"error,omitempty"`

	// Duration is the dispatch wall time; zero for started events.
	Duration time.Duration `json:"duration,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewDispatchEvent creates an event for the given phase and job.
func NewDispatchEvent(phase Phase, jobID uuid.UUID, jobType, queue string, attempt int, workerID string) *DispatchEvent {
	return &DispatchEvent{
		ID:         uuid.New(),
		Phase:      phase,
		JobID:      jobID,
		JobType:    jobType,
		Queue:      queue,
		Attempt:    attempt,
		WorkerID:   workerID,
		OccurredAt: time.Now().UTC(),
	}
}

// Finished derives the finished event for a started event.
func (e *DispatchEvent) Finished(outcome string, errText string) *DispatchEvent {
	now := time.Now().UTC()
	return &DispatchEvent{
		ID:         uuid.New(),
		Phase:      PhaseFinished,
		JobID:      e.JobID,
		JobType:    e.JobType,
		Queue:      e.Queue,
		Attempt:    e.Attempt,
		WorkerID:   e.WorkerID,
		Outcome:    outcome,
		Error:      errText,
		Duration:   now.Sub(e.OccurredAt),
		OccurredAt: now,
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *DispatchEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *DispatchEvent) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *DispatchEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the orchestrator to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *DispatchEvent) error
}
