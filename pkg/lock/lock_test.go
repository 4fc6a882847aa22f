package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	token, err := locker.Acquire(ctx, "workflow-1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, locker.Release(ctx, "workflow-1", token))

	// The key is free again after release.
	_, err = locker.Acquire(ctx, "workflow-1", time.Minute)
	require.NoError(t, err)
}

func TestMemoryLocker_FailsFastWhenHeld(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	_, err := locker.Acquire(ctx, "workflow-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "workflow-1", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// A different key is unaffected.
	_, err = locker.Acquire(ctx, "workflow-2", time.Minute)
	require.NoError(t, err)
}

func TestMemoryLocker_ReleaseRequiresMatchingToken(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	token, err := locker.Acquire(ctx, "workflow-1", time.Minute)
	require.NoError(t, err)

	// Release with a stale token is a no-op and the lock stays held.
	require.NoError(t, locker.Release(ctx, "workflow-1", "not-the-token"))

	_, err = locker.Acquire(ctx, "workflow-1", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, locker.Release(ctx, "workflow-1", token))
}

func TestMemoryLocker_ExpiredLockCanBeReacquired(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	_, err := locker.Acquire(ctx, "workflow-1", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	token, err := locker.Acquire(ctx, "workflow-1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}
