package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
)

// SimulateFailureKey, when present in a payload as a string, makes the
// handler report a business failure with that message. Operators use it
// to exercise the retry path from the CLI.
const SimulateFailureKey = "simulate_failure"

// LogHandler acknowledges a job after logging it.
type LogHandler struct {
	jobType job.Type
}

// NewLogHandler creates a LogHandler for t.
func NewLogHandler(t job.Type) *LogHandler {
	return &LogHandler{jobType: t}
}

// Execute implements job.Handler.
func (h *LogHandler) Execute(ctx context.Context, jobID uuid.UUID, payload job.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "handling job",
		"handler", string(h.jobType),
		"payload_keys", payloadKeys(payload))

	if msg, ok := payload[SimulateFailureKey].(string); ok && msg != "" {
		return job.NewHandlerError(fmt.Sprintf("%s: %s", h.jobType, msg))
	}
	return nil
}

func payloadKeys(p job.Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisterAll binds a LogHandler to every catalog type not already
// registered in r.
func RegisterAll(r *job.Registry) error {
	for _, t := range job.AllTypes() {
		if r.Has(t) {
			continue
		}
		if err := r.Register(t, NewLogHandler(t)); err != nil {
			return fmt.Errorf("register %s: %w", t, err)
		}
	}
	return nil
}

// NewRegistry returns a frozen registry with a handler for every catalog type.
func NewRegistry() (*job.Registry, error) {
	r := job.NewRegistry()
	if err := RegisterAll(r); err != nil {
		return nil, err
	}
	r.Freeze()
	return r, nil
}
