package syncmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/substrate"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	sub := substrate.New(t.TempDir())
	require.NoError(t, sub.EnsureStructure())
	return New(sub)
}

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	ok, err := m.Acquire("resource-a", "worker1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := m.IsLocked("resource-a")
	require.NoError(t, err)
	require.True(t, locked)

	holder, err := m.Holder("resource-a")
	require.NoError(t, err)
	require.Equal(t, "worker1", holder)
}

func TestAcquireByOtherHolderTimesOut(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	ok, err := m.Acquire("resource-a", "worker1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire("resource-a", "worker2", 150*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAcquireIsReentrant(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	ok, err := m.Acquire("resource-a", "worker1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire("resource-a", "worker1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseRequiresMatchingHolder(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	_, err := m.Acquire("resource-a", "worker1", time.Hour)
	require.NoError(t, err)

	ok, err := m.Release("resource-a", "worker2")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Release("resource-a", "worker1")
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := m.IsLocked("resource-a")
	require.NoError(t, err)
	require.False(t, locked)
}

func TestExpiredLockIsReclaimable(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	_, err := m.Acquire("resource-a", "worker1", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	ok, err := m.Acquire("resource-a", "worker2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	holder, err := m.Holder("resource-a")
	require.NoError(t, err)
	require.Equal(t, "worker2", holder)
}

func TestBarrierReleasesWhenExpectedArrive(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.CreateBarrier("phase-1", 2))

	done := make(chan bool, 2)
	go func() {
		ok, err := m.WaitAtBarrier("phase-1", "worker1", time.Second)
		require.NoError(t, err)
		done <- ok
	}()
	go func() {
		time.Sleep(20 * time.Millisecond)
		ok, err := m.WaitAtBarrier("phase-1", "worker2", time.Second)
		require.NoError(t, err)
		done <- ok
	}()

	require.True(t, <-done)
	require.True(t, <-done)
}

func TestBarrierTimesOutWhenShortOfExpected(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.CreateBarrier("phase-1", 2))

	ok, err := m.WaitAtBarrier("phase-1", "worker1", 150*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReapExpiredRemovesOnlyExpiredLocks(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	_, err := m.Acquire("resource-live", "worker1", time.Hour)
	require.NoError(t, err)
	_, err = m.Acquire("resource-dead", "worker2", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	n, err := m.ReapExpired()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	locked, err := m.IsLocked("resource-live")
	require.NoError(t, err)
	require.True(t, locked)
}

func TestForceReleaseByHolder(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	_, err := m.Acquire("resource-a", "worker1", time.Hour)
	require.NoError(t, err)
	_, err = m.Acquire("resource-b", "worker1", time.Hour)
	require.NoError(t, err)
	_, err = m.Acquire("resource-c", "worker2", time.Hour)
	require.NoError(t, err)

	n, err := m.ForceReleaseBy("worker1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	locked, err := m.IsLocked("resource-c")
	require.NoError(t, err)
	require.True(t, locked)
}
