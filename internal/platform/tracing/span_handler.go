package tracing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/phrazzld/scry-jobs/internal/job"

type attemptKey struct {
	jobID   uuid.UUID
	attempt int
}

// SpanHandler is an events.EventHandler that opens a span when a dispatch
// starts and ends it when the dispatch finishes.
type SpanHandler struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[attemptKey]trace.Span
}

var _ events.EventHandler = (*SpanHandler)(nil)

// NewSpanHandler creates a handler recording spans on tp.
func NewSpanHandler(tp trace.TracerProvider) *SpanHandler {
	return &SpanHandler{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[attemptKey]trace.Span),
	}
}

// HandleEvent implements events.EventHandler.
func (h *SpanHandler) HandleEvent(ctx context.Context, e *events.DispatchEvent) error {
	key := attemptKey{jobID: e.JobID, attempt: e.Attempt}

	switch e.Phase {
	case events.PhaseStarted:
		_, span := h.tracer.Start(ctx, "job.dispatch "+e.JobType,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithTimestamp(e.OccurredAt),
			trace.WithAttributes(
				attribute.String("job.id", e.JobID.String()),
				attribute.String("job.type", e.JobType),
				attribute.String("job.queue", e.Queue),
				attribute.Int("job.attempt", e.Attempt),
				attribute.String("worker.id", e.WorkerID),
			),
		)
		h.mu.Lock()
		h.spans[key] = span
		h.mu.Unlock()
		return nil

	case events.PhaseFinished:
		h.mu.Lock()
		span, ok := h.spans[key]
		delete(h.spans, key)
		h.mu.Unlock()
		if !ok {
			return fmt.Errorf("finished event for job %s attempt %d has no open span", e.JobID, e.Attempt)
		}

		span.SetAttributes(attribute.String("job.outcome", e.Outcome))
		if e.Error != "" {
			span.SetStatus(codes.Error, e.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End(trace.WithTimestamp(e.OccurredAt))
		return nil
	}
	return fmt.Errorf("unknown dispatch phase %q", e.Phase)
}

// Open returns the number of spans started but not yet finished.
func (h *SpanHandler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spans)
}
