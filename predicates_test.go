package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreAcquireAction(t *testing.T) {
	t.Parallel()

	sem := newSemaphore(1, 1)
	action := semaphoreAcquireAction(sem)
	caller := &tcb{description: "caller"}

	assert.True(t, action(caller))
	assert.False(t, action(caller), "second acquire fails once the resource is exhausted")
}

func TestSemaphoreReleaseAction(t *testing.T) {
	t.Parallel()

	sem := newSemaphore(1, 0)
	action := semaphoreReleaseAction(sem)
	caller := &tcb{description: "caller"}

	assert.True(t, action(caller))
	assert.False(t, action(caller), "releasing past the resource count fails")
}

func TestMutexLockAction(t *testing.T) {
	t.Parallel()

	a := &tcb{description: "a"}
	b := &tcb{description: "b"}
	m := newMutex(a)
	action := mutexLockAction(m)

	require.True(t, action(b))
	assert.False(t, action(a), "a different task must fail while b holds the lock")
	assert.True(t, action(b), "the owner re-locking its own hold still succeeds")
}

func TestMutexUnlockAction(t *testing.T) {
	t.Parallel()

	a := &tcb{description: "a"}
	b := &tcb{description: "b"}
	m := newMutex(a)
	lockAction := mutexLockAction(m)
	unlockAction := mutexUnlockAction(m)

	require.True(t, lockAction(b))
	assert.False(t, unlockAction(a), "a non-owner cannot unlock")
	assert.True(t, unlockAction(b))
}
