package collaboration

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/qamatch/collab/pkg/storage"
)

// Collaboration errors. None of them leave a session partially mutated.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotOwner         = errors.New("lock is owned by another user")
	ErrLockNotFound     = errors.New("lock not found")
	ErrNotParticipant   = errors.New("user is not a participant of the session")
	ErrInvalidLockRange = errors.New("invalid lock range")
	ErrInternal         = errors.New("internal error")
)

// OutOfRangeError reports an edit whose target range falls outside the content
type OutOfRangeError struct {
	Position      int
	Length        int
	ContentLength int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("edit range [%d, %d) is outside content of length %d",
		e.Position, e.Position+e.Length, e.ContentLength)
}

// LockConflictError reports a lock request that intersects an existing lock
type LockConflictError struct {
	Start  int
	End    int
	LockID string
	HeldBy string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("section [%d, %d] overlaps lock %s held by %s",
		e.Start, e.End, e.LockID, e.HeldBy)
}

// MalformedEventError reports an inbound event that failed decoding or validation
type MalformedEventError struct {
	Event  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("malformed event: %s", e.Reason)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Event, e.Reason)
}

// StaleBaseVersionError reports an edit whose base version cannot be rebased
// against the retained history
type StaleBaseVersionError struct {
	BaseVersion   int64
	OldestVersion int64
	Version       int64
}

func (e *StaleBaseVersionError) Error() string {
	return fmt.Sprintf("base version %d is outside the rebase window [%d, %d]",
		e.BaseVersion, e.OldestVersion, e.Version)
}

// Wire error codes sent in error events
const (
	ErrCodeInvalidMessage   = 4000
	ErrCodeRateLimited      = 4002
	ErrCodeServerError      = 4003
	ErrCodeInvalidParams    = 4005
	ErrCodeConflict         = 4008
	ErrCodeSessionNotFound  = 4009
	ErrCodeOutOfRange       = 4010
	ErrCodeNotOwner         = 4011
	ErrCodeLockNotFound     = 4012
	ErrCodeNotParticipant   = 4013
	ErrCodeStaleBaseVersion = 4014
)

// ErrorCode maps err to its wire code. Unknown errors are server errors.
func ErrorCode(err error) int {
	var (
		outOfRange *OutOfRangeError
		conflict   *LockConflictError
		malformed  *MalformedEventError
		stale      *StaleBaseVersionError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &malformed):
		return ErrCodeInvalidMessage
	case errors.As(err, &outOfRange):
		return ErrCodeOutOfRange
	case errors.As(err, &conflict), errors.Is(err, storage.ErrVersionConflict):
		return ErrCodeConflict
	case errors.As(err, &stale):
		return ErrCodeStaleBaseVersion
	case errors.Is(err, ErrSessionNotFound):
		return ErrCodeSessionNotFound
	case errors.Is(err, ErrNotOwner):
		return ErrCodeNotOwner
	case errors.Is(err, ErrLockNotFound):
		return ErrCodeLockNotFound
	case errors.Is(err, ErrNotParticipant):
		return ErrCodeNotParticipant
	case errors.Is(err, ErrInvalidLockRange):
		return ErrCodeInvalidParams
	default:
		return ErrCodeServerError
	}
}

// HTTPStatus maps err to the status returned by the REST surface
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case 0:
		return http.StatusOK
	case ErrCodeInvalidMessage, ErrCodeInvalidParams, ErrCodeOutOfRange:
		return http.StatusBadRequest
	case ErrCodeSessionNotFound, ErrCodeLockNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeStaleBaseVersion:
		return http.StatusConflict
	case ErrCodeNotOwner, ErrCodeNotParticipant:
		return http.StatusForbidden
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show the caller. Internal
// failures are reported generically.
func PublicMessage(err error) string {
	if ErrorCode(err) == ErrCodeServerError {
		return ErrInternal.Error()
	}
	return err.Error()
}
