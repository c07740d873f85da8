package collaboration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	t.Run("join", func(t *testing.T) {
		ev, err := DecodeEvent([]byte(`{"event":"join_edit_session","data":{"content_id":"doc-1","user_name":"Alice"}}`))
		require.NoError(t, err)
		join, ok := ev.(*JoinEvent)
		require.True(t, ok)
		assert.Equal(t, "doc-1", join.ContentID)
		assert.Equal(t, "Alice", join.UserName)
	})

	t.Run("content edit", func(t *testing.T) {
		ev, err := DecodeEvent([]byte(`{"event":"content_edit","data":{"content_id":"doc-1",
			"edit":{"type":"delete","position":0,"length":2,"base_version":0}}}`))
		require.NoError(t, err)
		edit := ev.(*ContentEditEvent).Edit.Edit()
		assert.Equal(t, NewDelete(0, 2, 0), edit)
	})

	t.Run("leave without data", func(t *testing.T) {
		ev, err := DecodeEvent([]byte(`{"event":"leave_edit_session"}`))
		require.NoError(t, err)
		assert.Equal(t, EventLeaveEditSession, ev.EventName())
	})

	t.Run("cursor with selection", func(t *testing.T) {
		ev, err := DecodeEvent([]byte(`{"event":"cursor_update","data":{"content_id":"doc-1","cursor_position":4,"selection":{"start":1,"end":4}}}`))
		require.NoError(t, err)
		cursor := ev.(*CursorUpdateEvent)
		assert.Equal(t, 4, *cursor.CursorPosition)
		assert.Equal(t, &Selection{Start: 1, End: 4}, cursor.Selection)
	})
}

func TestDecodeEvent_Malformed(t *testing.T) {
	frames := map[string]string{
		"not json":              `{"event":`,
		"missing event":         `{"data":{}}`,
		"unknown event":         `{"event":"format_disk","data":{}}`,
		"payload type mismatch": `{"event":"join_edit_session","data":{"content_id":42}}`,
		"missing content id":    `{"event":"join_edit_session","data":{}}`,
		"blank content id":      `{"event":"join_edit_session","data":{"content_id":"   "}}`,
		"missing base version":  `{"event":"content_edit","data":{"content_id":"d","edit":{"type":"insert","position":0,"text":"x"}}}`,
		"missing position":      `{"event":"content_edit","data":{"content_id":"d","edit":{"type":"insert","text":"x","base_version":0}}}`,
		"unknown edit type":     `{"event":"content_edit","data":{"content_id":"d","edit":{"type":"move","position":0,"base_version":0}}}`,
		"insert without text":   `{"event":"content_edit","data":{"content_id":"d","edit":{"type":"insert","position":0,"base_version":0}}}`,
		"negative position":     `{"event":"content_edit","data":{"content_id":"d","edit":{"type":"delete","position":-1,"length":1,"base_version":0}}}`,
		"missing cursor":        `{"event":"cursor_update","data":{"content_id":"d"}}`,
		"missing lock end":      `{"event":"lock_section","data":{"content_id":"d","start":1}}`,
		"missing lock id":       `{"event":"unlock_section","data":{"content_id":"d"}}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(frame))
			var malformed *MalformedEventError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, ErrCodeInvalidMessage, ErrorCode(err))
		})
	}
}

func TestOutboundEvent_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(NewErrorEvent(EventContentEdit, ErrNotParticipant))
	require.NoError(t, err)

	var env struct {
		Event string       `json:"event"`
		Data  ErrorPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, EventError, env.Event)
	assert.Equal(t, ErrCodeNotParticipant, env.Data.Code)
	assert.Equal(t, EventContentEdit, env.Data.Event)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, 0, ErrorCode(nil))
	assert.Equal(t, ErrCodeConflict, ErrorCode(&LockConflictError{}))
	assert.Equal(t, ErrCodeStaleBaseVersion, ErrorCode(&StaleBaseVersionError{}))
	assert.Equal(t, ErrCodeSessionNotFound, ErrorCode(ErrSessionNotFound))
	assert.Equal(t, ErrCodeInvalidParams, ErrorCode(ErrInvalidLockRange))
	assert.Equal(t, 404, HTTPStatus(ErrSessionNotFound))
	assert.Equal(t, 403, HTTPStatus(ErrNotOwner))
	assert.Equal(t, 409, HTTPStatus(&StaleBaseVersionError{}))
}
