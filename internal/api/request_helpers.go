package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/job"
)

// getPathUUID parses the named chi path parameter as a UUID.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", errInvalidRequest, paramName)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", errInvalidRequest, paramName)
	}
	return id, nil
}

// getPathQueue parses the named chi path parameter as a queue family.
func getPathQueue(r *http.Request, paramName string) (job.Queue, error) {
	q, err := job.ParseQueue(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	return q, nil
}
