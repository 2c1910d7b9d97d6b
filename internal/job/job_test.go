package job

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState(t *testing.T) {
	t.Parallel()

	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateFailedPermanent.IsTerminal())
	assert.False(t, StateFailedRetryable.IsTerminal())
	assert.False(t, StateLeased.IsTerminal())

	assert.True(t, StateReady.Valid())
	assert.False(t, State("running").Valid())
}

func TestJob_Leasable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"ready and due", Job{State: StateReady, ScheduledAt: past, MaxAttempts: 5}, true},
		{"ready but scheduled later", Job{State: StateReady, ScheduledAt: future, MaxAttempts: 5}, false},
		{"retryable and due", Job{State: StateFailedRetryable, ScheduledAt: past, Attempt: 2, MaxAttempts: 5}, true},
		{"attempts exhausted", Job{State: StateFailedRetryable, ScheduledAt: past, Attempt: 5, MaxAttempts: 5}, false},
		{"leased, lease live", Job{State: StateLeased, ScheduledAt: past, Attempt: 1, MaxAttempts: 5, LeaseExpiresAt: &future}, false},
		{"leased, lease expired", Job{State: StateLeased, ScheduledAt: past, Attempt: 1, MaxAttempts: 5, LeaseExpiresAt: &past}, true},
		{"succeeded", Job{State: StateSucceeded, ScheduledAt: past, Attempt: 1, MaxAttempts: 5}, false},
		{"failed permanently", Job{State: StateFailedPermanent, ScheduledAt: past, Attempt: 1, MaxAttempts: 5}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.job.Leasable(now))
		})
	}
}

func TestJob_Lease(t *testing.T) {
	t.Parallel()

	expires := time.Now().Add(time.Minute)
	j := &Job{ID: uuid.New(), State: StateLeased, LeasedBy: "w1", Attempt: 2, LeaseExpiresAt: &expires}

	l := j.Lease()
	assert.Equal(t, j.ID, l.JobID)
	assert.Equal(t, "w1", l.WorkerID)
	assert.Equal(t, 2, l.Attempt)
	assert.True(t, l.ExpiresAt.Equal(expires))

	j.State = StateReady
	assert.Equal(t, Lease{}, j.Lease())
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	spec, err := LookupType(TypeCaptureScreenshot)
	require.NoError(t, err)
	assert.Equal(t, QueueScreenshot, spec.Queue)
	assert.Equal(t, 0, spec.DefaultPriority)

	spec, err = LookupType(TypeSendNotification)
	require.NoError(t, err)
	assert.Equal(t, QueueHigh, spec.Queue)
	assert.Equal(t, 10, spec.DefaultPriority)

	_, err = LookupType(Type("unknown"))
	assert.ErrorIs(t, err, ErrUnknownJobType)

	assert.Len(t, AllTypes(), 7)
	for _, typ := range AllTypes() {
		spec, err := LookupType(typ)
		require.NoError(t, err)
		_, err = ParseQueue(string(spec.Queue))
		assert.NoError(t, err, "type %s maps to an unknown queue", typ)
	}

	q, err := ParseQueue(" Screenshot ")
	require.NoError(t, err)
	assert.Equal(t, QueueScreenshot, q)
	_, err = ParseQueue("urgent")
	assert.Error(t, err)
}

func TestHandlerError(t *testing.T) {
	t.Parallel()

	he := NewHandlerError("quota exceeded")
	assert.Equal(t, "quota exceeded", he.Error())
	assert.Same(t, he, AsHandlerError(he))
	assert.Nil(t, AsHandlerError(nil))

	cause := errors.New("timeout")
	wrapped := AsHandlerError(cause)
	assert.Equal(t, "timeout", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)

	withBoth := &HandlerError{Message: "render", Err: cause}
	assert.Equal(t, "render: timeout", withBoth.Error())
}
