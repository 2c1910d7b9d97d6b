package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"unknown type", fmt.Errorf("%w: %q", job.ErrUnknownJobType, "x"), http.StatusBadRequest, "Unknown job type"},
		{"job not found", fmt.Errorf("get: %w", store.ErrJobNotFound), http.StatusNotFound, "Job not found"},
		{"duplicate", store.ErrDuplicate, http.StatusConflict, "Job already exists"},
		{"invalid entity", store.ErrInvalidEntity, http.StatusBadRequest, "Invalid job data"},
		{"invalid options", fmt.Errorf("enqueue: %w", job.ErrInvalidOptions), http.StatusBadRequest, "Invalid enqueue options"},
		{"store down", fmt.Errorf("%w: dial tcp", job.ErrStoreUnavailable), http.StatusServiceUnavailable, "Job store unavailable"},
		{"bad request", errInvalidRequest, http.StatusBadRequest, "Invalid request"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "An unexpected error occurred"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.status, MapErrorToStatusCode(tc.err))
			assert.Equal(t, tc.msg, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	type req struct {
		Type string `validate:"required"`
	}
	err := validator.New().Struct(req{})
	assert.Equal(t, "Invalid Type: required field", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}
