package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/gate"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingableStore struct {
	*job.MockJobStore
	pingErr error
}

func (s *pingableStore) Ping(context.Context) error { return s.pingErr }

type testServer struct {
	store   *pingableStore
	orch    *job.Orchestrator
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := &pingableStore{MockJobStore: job.NewMockJobStore()}
	noop := job.HandlerFunc(func(context.Context, uuid.UUID, job.Payload) error { return nil })
	registry, err := job.NewRegistryFrom(map[job.Type]job.Handler{
		job.TypeSendEmail:         noop,
		job.TypeCaptureScreenshot: noop,
	})
	require.NoError(t, err)

	gates, err := gate.NewSet(map[string]int{string(job.QueueScreenshot): 3})
	require.NoError(t, err)

	log := logger.Discard()
	orch := job.NewOrchestrator(store, registry, job.DefaultConfig(), log, job.WithGates(gates))
	return &testServer{
		store:   store,
		orch:    orch,
		handler: NewRouter(NewOpsHandler(store, orch, gates), log),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	s.store.pingErr = errors.New("connection refused")
	rec = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestGates(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	g, ok := s.orch.Gates().For(string(job.QueueScreenshot))
	require.True(t, ok)
	require.NoError(t, g.Acquire(context.Background()))
	defer func() { _ = g.Release() }()

	rec := s.do(t, http.MethodGet, "/gates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[GatesResponse](t, rec).Gates[string(job.QueueScreenshot)]
	assert.Equal(t, 3, stats.Capacity)
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, 1, stats.InUse)
}

func TestEnqueueAndGetJob(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	prio := 42
	rec := s.do(t, http.MethodPost, "/jobs", EnqueueRequest{
		Type:     string(job.TypeSendEmail),
		Payload:  map[string]any{"to": "a@example.com"},
		Priority: &prio,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[EnqueueResponse](t, rec).ID
	require.NotEqual(t, uuid.Nil, id)

	rec = s.do(t, http.MethodGet, "/jobs/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[JobResponse](t, rec)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, string(job.QueueHigh), got.Queue)
	assert.Equal(t, string(job.StateReady), got.State)
	assert.Equal(t, 42, got.Priority)
	assert.Equal(t, job.DefaultMaxAttempts, got.MaxAttempts)
}

func TestEnqueueRejections(t *testing.T) {
	t.Parallel()

	zero := 0
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"missing type", map[string]any{"payload": map[string]any{}}, http.StatusBadRequest},
		{"unknown field", map[string]any{"type": "send_email", "owner": "x"}, http.StatusBadRequest},
		{"zero max attempts", EnqueueRequest{Type: "send_email", MaxAttempts: &zero}, http.StatusBadRequest},
		{"type not in catalog", EnqueueRequest{Type: "mine_bitcoin"}, http.StatusBadRequest},
		{"type without handler", EnqueueRequest{Type: string(job.TypeIndexSearch)}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/jobs", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Zero(t, s.store.Len())
		})
	}
}

func TestGetJob_Errors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/jobs/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/jobs/not-a-uuid", nil).Code)
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, err := s.orch.Enqueue(context.Background(), job.TypeCaptureScreenshot, nil, job.EnqueueOptions{})
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/queues/screenshot/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[QueueStatsResponse](t, rec)
	assert.Equal(t, "screenshot", stats.Queue)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.States[string(job.StateReady)])
	assert.Equal(t, 0, stats.States[string(job.StateSucceeded)])
	assert.Len(t, stats.States, len(job.AllStates()))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/queues/urgent/stats", nil).Code)
}

func TestQueueStats_StoreUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.CountByStateFn = func(context.Context, job.Queue) (map[job.State]int, error) {
		return nil, job.ErrStoreUnavailable
	}
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/queues/high/stats", nil).Code)
}
