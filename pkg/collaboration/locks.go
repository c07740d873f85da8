package collaboration

import (
	"time"

	"github.com/google/uuid"
)

// LockManager grants exclusive section locks within a session. Ranges are
// closed, so locks that share a boundary offset conflict. Locks never
// expire on their own; they end on release or when the session is
// destroyed.
type LockManager struct {
	newID func() string
	now   func() time.Time
}

// NewLockManager creates a lock manager issuing UUID lock IDs
func NewLockManager() *LockManager {
	return &LockManager{
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Acquire locks [start, end] in s for userID
func (m *LockManager) Acquire(s *Session, userID string, start, end int) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	return m.acquireLocked(s, userID, start, end)
}

// Release removes lockID from s if userID owns it
func (m *LockManager) Release(s *Session, userID, lockID string) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionNotFound
	}
	return m.releaseLocked(s, userID, lockID)
}

// acquireLocked is Acquire for callers already holding s.mu
func (m *LockManager) acquireLocked(s *Session, userID string, start, end int) (*Lock, error) {
	if start < 0 || end < start {
		return nil, ErrInvalidLockRange
	}

	// Scan in start order so the reported holder is deterministic
	for _, existing := range s.lockList() {
		if existing.Overlaps(start, end) {
			return nil, &LockConflictError{
				Start:  start,
				End:    end,
				LockID: existing.ID,
				HeldBy: existing.UserID,
			}
		}
	}

	lock := &Lock{
		ID:        m.newID(),
		UserID:    userID,
		Start:     start,
		End:       end,
		CreatedAt: m.now(),
	}
	s.locks[lock.ID] = lock
	copied := *lock
	return &copied, nil
}

// releaseLocked is Release for callers already holding s.mu
func (m *LockManager) releaseLocked(s *Session, userID, lockID string) (*Lock, error) {
	lock, ok := s.locks[lockID]
	if !ok {
		return nil, ErrLockNotFound
	}
	if lock.UserID != userID {
		return nil, ErrNotOwner
	}
	delete(s.locks, lockID)
	return lock, nil
}
