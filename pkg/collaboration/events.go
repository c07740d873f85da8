package collaboration

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Inbound event names
const (
	EventJoinEditSession  = "join_edit_session"
	EventLeaveEditSession = "leave_edit_session"
	EventContentEdit      = "content_edit"
	EventCursorUpdate     = "cursor_update"
	EventLockSection      = "lock_section"
	EventUnlockSection    = "unlock_section"
)

// Outbound event names
const (
	EventSessionState    = "session_state"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventContentUpdated  = "content_updated"
	EventCursorMoved     = "cursor_moved"
	EventSectionLocked   = "section_locked"
	EventSectionUnlocked = "section_unlocked"
	EventLockFailed      = "lock_failed"
	EventSessionClosed   = "session_closed"
	EventError           = "error"
)

// Envelope is the wire frame shared by inbound and outbound events
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is one of the closed set of events a client may send
type InboundEvent interface {
	EventName() string
	// claimedUserID is the user_id the payload names, if any
	claimedUserID() string
}

// JoinEvent asks to join the session of a document
type JoinEvent struct {
	ContentID string `json:"content_id" validate:"required,content_id"`
	UserID    string `json:"user_id,omitempty" validate:"omitempty,max=128"`
	UserName  string `json:"user_name,omitempty" validate:"omitempty,max=128"`
}

// LeaveEvent leaves the current session
type LeaveEvent struct {
	UserID string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

// EditPayload is the wire form of an Edit. Required numeric fields are
// pointers so that a missing field is distinguishable from zero.
type EditPayload struct {
	Type        string `json:"type" validate:"required,oneof=insert delete replace"`
	Position    *int   `json:"position" validate:"required,min=0"`
	Text        string `json:"text,omitempty"`
	Length      int    `json:"length,omitempty" validate:"min=0"`
	BaseVersion *int64 `json:"base_version" validate:"required,min=0"`
}

// Edit converts the payload into an Edit
func (p EditPayload) Edit() Edit {
	e := Edit{
		Type:   OperationType(p.Type),
		Text:   p.Text,
		Length: p.Length,
	}
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.BaseVersion != nil {
		e.BaseVersion = *p.BaseVersion
	}
	return e
}

// ContentEditEvent submits an edit
type ContentEditEvent struct {
	ContentID string      `json:"content_id" validate:"required,content_id"`
	UserID    string      `json:"user_id,omitempty"`
	Edit      EditPayload `json:"edit"`
}

// CursorUpdateEvent reports a cursor move
type CursorUpdateEvent struct {
	ContentID      string     `json:"content_id" validate:"required,content_id"`
	UserID         string     `json:"user_id,omitempty"`
	CursorPosition *int       `json:"cursor_position" validate:"required,min=0"`
	Selection      *Selection `json:"selection,omitempty"`
}

// LockSectionEvent requests a section lock
type LockSectionEvent struct {
	ContentID string `json:"content_id" validate:"required,content_id"`
	UserID    string `json:"user_id,omitempty"`
	Start     *int   `json:"start" validate:"required,min=0"`
	End       *int   `json:"end" validate:"required,min=0"`
}

// UnlockSectionEvent releases a section lock
type UnlockSectionEvent struct {
	ContentID string `json:"content_id" validate:"required,content_id"`
	UserID    string `json:"user_id,omitempty"`
	LockID    string `json:"lock_id" validate:"required"`
}

func (*JoinEvent) EventName() string { return EventJoinEditSession }
func (*LeaveEvent) EventName() string { return EventLeaveEditSession }
func (*ContentEditEvent) EventName() string { return EventContentEdit }
func (*CursorUpdateEvent) EventName() string { return EventCursorUpdate }
func (*LockSectionEvent) EventName() string { return EventLockSection }
func (*UnlockSectionEvent) EventName() string { return EventUnlockSection }

func (e *JoinEvent) claimedUserID() string { return e.UserID }
func (e *LeaveEvent) claimedUserID() string { return e.UserID }
func (e *ContentEditEvent) claimedUserID() string { return e.UserID }
func (e *CursorUpdateEvent) claimedUserID() string { return e.UserID }
func (e *LockSectionEvent) claimedUserID() string { return e.UserID }
func (e *UnlockSectionEvent) claimedUserID() string { return e.UserID }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("content_id", validateContentID); err != nil {
		panic(fmt.Sprintf("failed to register content_id validator: %v", err))
	}
	return v
}

// validateContentID accepts printable identifiers up to 256 bytes
func validateContentID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if len(id) > 256 || strings.TrimSpace(id) == "" {
		return false
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// DecodeEvent parses and validates an inbound frame. Every failure is a
// *MalformedEventError.
func DecodeEvent(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &MalformedEventError{Reason: "invalid JSON envelope"}
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope validates the payload of an already parsed envelope
func DecodeEnvelope(env Envelope) (InboundEvent, error) {
	var ev InboundEvent
	switch env.Event {
	case EventJoinEditSession:
		ev = &JoinEvent{}
	case EventLeaveEditSession:
		ev = &LeaveEvent{}
	case EventContentEdit:
		ev = &ContentEditEvent{}
	case EventCursorUpdate:
		ev = &CursorUpdateEvent{}
	case EventLockSection:
		ev = &LockSectionEvent{}
	case EventUnlockSection:
		ev = &UnlockSectionEvent{}
	case "":
		return nil, &MalformedEventError{Reason: "missing event name"}
	default:
		return nil, &MalformedEventError{Event: env.Event, Reason: "unknown event"}
	}

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, &MalformedEventError{Event: env.Event, Reason: "invalid payload"}
	}
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// validateEvent checks the required fields of ev
func validateEvent(ev InboundEvent) error {
	if err := validate.Struct(ev); err != nil {
		return &MalformedEventError{Event: ev.EventName(), Reason: describeValidation(err)}
	}
	if ce, ok := ev.(*ContentEditEvent); ok {
		if err := ce.Edit.Edit().Validate(); err != nil {
			return &MalformedEventError{Event: ev.EventName(), Reason: err.Error()}
		}
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "content_id":
		return fmt.Sprintf("%s is not a valid content id", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Namespace(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}

// OutboundEvent is an event sent to clients
type OutboundEvent struct {
	Name string
	Data interface{}
}

// MarshalJSON renders the event as an Envelope
func (e OutboundEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{e.Name, e.Data})
}

// ParticipantView is the roster entry sent in session_state
type ParticipantView struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	CursorPosition int       `json:"cursor_position"`
	Selection      Selection `json:"selection"`
}

// SessionState is the snapshot sent to a joining participant
type SessionState struct {
	ContentID   string            `json:"content_id"`
	UserID      string            `json:"user_id"`
	UserName    string            `json:"user_name"`
	Content     string            `json:"content"`
	Version     int64             `json:"version"`
	ActiveUsers []ParticipantView `json:"active_users"`
	Locks       []Lock            `json:"locked_sections"`
}

// UserJoinedPayload is broadcast when a participant joins
type UserJoinedPayload struct {
	UserID      string   `json:"user_id"`
	UserName    string   `json:"user_name"`
	ActiveUsers []string `json:"active_users"`
}

// UserLeftPayload is broadcast when a participant leaves
type UserLeftPayload struct {
	UserID      string   `json:"user_id"`
	UserName    string   `json:"user_name"`
	ActiveUsers []string `json:"active_users"`
}

// ContentUpdatedPayload is broadcast after an edit is applied
type ContentUpdatedPayload struct {
	ContentID string `json:"content_id"`
	Edit      Edit   `json:"edit"`
	Version   int64  `json:"version"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// CursorMovedPayload is broadcast after a cursor update
type CursorMovedPayload struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	CursorPosition int       `json:"cursor_position"`
	Selection      Selection `json:"selection"`
}

// SectionLockedPayload is broadcast after a lock is granted
type SectionLockedPayload struct {
	LockID string `json:"lock_id"`
	UserID string `json:"user_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// SectionUnlockedPayload is broadcast after a lock is released
type SectionUnlockedPayload struct {
	LockID string `json:"lock_id"`
	UserID string `json:"user_id"`
}

// LockFailedPayload is sent to a requester whose lock conflicts
type LockFailedPayload struct {
	Message string `json:"message"`
	HeldBy  string `json:"held_by"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Reasons carried by session_closed
const (
	CloseReasonExpired = "expired"
	CloseReasonEmpty   = "empty"
)

// SessionClosedPayload is broadcast when a session is destroyed while
// connections may still be subscribed to it
type SessionClosedPayload struct {
	ContentID string `json:"content_id"`
	Reason    string `json:"reason"`
	Version   int64  `json:"version"`
}

// ErrorPayload is sent to the connection whose event failed
type ErrorPayload struct {
	Code    int    `json:"code"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// NewErrorEvent builds the error event reported for err
func NewErrorEvent(event string, err error) OutboundEvent {
	return OutboundEvent{
		Name: EventError,
		Data: ErrorPayload{
			Code:    ErrorCode(err),
			Event:   event,
			Message: PublicMessage(err),
		},
	}
}
