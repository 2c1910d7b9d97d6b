package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithParam(name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetPathUUID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	got, err := getPathUUID(requestWithParam("id", id.String()), "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = getPathUUID(requestWithParam("id", "not-a-uuid"), "id")
	assert.ErrorIs(t, err, errInvalidRequest)

	_, err = getPathUUID(requestWithParam("other", id.String()), "id")
	assert.ErrorIs(t, err, errInvalidRequest)
}

func TestGetPathQueue(t *testing.T) {
	t.Parallel()

	q, err := getPathQueue(requestWithParam("queue", "screenshot"), "queue")
	require.NoError(t, err)
	assert.Equal(t, job.QueueScreenshot, q)

	_, err = getPathQueue(requestWithParam("queue", "urgent"), "queue")
	assert.ErrorIs(t, err, errInvalidRequest)
}
