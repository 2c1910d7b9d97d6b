package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-1)
	assert.Error(t, err)

	g, err := New(DefaultPermits)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Capacity())
	assert.Equal(t, 3, g.AvailablePermits())
}

func TestGate_AcquireRelease(t *testing.T) {
	t.Parallel()

	g, err := New(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, 1, g.AvailablePermits())
	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, 0, g.AvailablePermits())
	assert.False(t, g.TryAcquire())

	require.NoError(t, g.Release())
	assert.Equal(t, 1, g.AvailablePermits())
	assert.True(t, g.TryAcquire())

	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
	assert.ErrorIs(t, g.Release(), ErrReleaseWithoutAcquire)
	assert.Equal(t, 2, g.AvailablePermits())
}

func TestGate_AcquireHonoursContext(t *testing.T) {
	t.Parallel()

	g, err := New(1)
	require.NoError(t, err)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = g.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), g.Stats().Rejected)
}

func TestGate_AcquireUnblocksOnRelease(t *testing.T) {
	t.Parallel()

	g, err := New(1)
	require.NoError(t, err)
	require.NoError(t, g.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- g.Acquire(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("acquire should block while the only permit is held")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, g.Release())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestGate_NeverExceedsPermitsUnderLoad(t *testing.T) {
	t.Parallel()

	const permits = 3
	g, err := New(permits)
	require.NoError(t, err)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer func() { _ = g.Release() }()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(permits))
	assert.Equal(t, permits, g.AvailablePermits())
	assert.Equal(t, int64(50), g.Stats().Acquired)
}

func TestSet(t *testing.T) {
	t.Parallel()

	s, err := NewSet(map[string]int{"screenshot": 3})
	require.NoError(t, err)

	g, ok := s.For("screenshot")
	require.True(t, ok)
	assert.Equal(t, 3, g.Capacity())

	_, ok = s.For("default")
	assert.False(t, ok)
	assert.Equal(t, []string{"screenshot"}, s.Families())
	assert.Equal(t, 3, s.Snapshot()["screenshot"].Available)

	_, err = NewSet(map[string]int{"bulk": 0})
	assert.Error(t, err)

	var nilSet *Set
	_, ok = nilSet.For("screenshot")
	assert.False(t, ok)
}
