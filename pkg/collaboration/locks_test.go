package collaboration

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockManager() *LockManager {
	n := 0
	return &LockManager{
		newID: func() string {
			n++
			return fmt.Sprintf("lock-%d", n)
		},
		now: time.Now,
	}
}

func TestLockManager_Acquire(t *testing.T) {
	s := newSession("doc-1", "0123456789abcdefghij", 10, time.Now())
	m := newTestLockManager()

	lock, err := m.Acquire(s, "alice", 5, 10)
	require.NoError(t, err)
	assert.Equal(t, "lock-1", lock.ID)
	assert.Equal(t, "alice", lock.UserID)

	_, err = m.Acquire(s, "bob", 10, 15)
	var conflict *LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "alice", conflict.HeldBy)
	assert.Equal(t, "lock-1", conflict.LockID)

	_, err = m.Acquire(s, "bob", 11, 15)
	require.NoError(t, err)

	// Overlap with one's own lock conflicts too
	_, err = m.Acquire(s, "alice", 0, 5)
	require.ErrorAs(t, err, &conflict)

	assert.Len(t, s.locks, 2)
}

func TestLockManager_AcquireInvalidRange(t *testing.T) {
	s := newSession("doc-1", "", 10, time.Now())
	m := newTestLockManager()

	_, err := m.Acquire(s, "alice", 5, 4)
	assert.ErrorIs(t, err, ErrInvalidLockRange)
	_, err = m.Acquire(s, "alice", -1, 4)
	assert.ErrorIs(t, err, ErrInvalidLockRange)

	// A single offset is a valid range
	_, err = m.Acquire(s, "alice", 3, 3)
	assert.NoError(t, err)
}

func TestLockManager_Release(t *testing.T) {
	s := newSession("doc-1", "", 10, time.Now())
	m := newTestLockManager()

	lock, err := m.Acquire(s, "alice", 0, 3)
	require.NoError(t, err)

	_, err = m.Release(s, "bob", lock.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Contains(t, s.locks, lock.ID)

	_, err = m.Release(s, "alice", "missing")
	assert.ErrorIs(t, err, ErrLockNotFound)

	released, err := m.Release(s, "alice", lock.ID)
	require.NoError(t, err)
	assert.Equal(t, lock.ID, released.ID)
	assert.Empty(t, s.locks)
}

func TestLockManager_ClosedSession(t *testing.T) {
	s := newSession("doc-1", "", 10, time.Now())
	s.closed = true
	m := newTestLockManager()

	_, err := m.Acquire(s, "alice", 0, 3)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Release(s, "alice", "lock-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
