package collaboration

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Edit is a single text mutation. Positions and lengths count runes.
// Edits are values; transforming one returns a new Edit.
type Edit struct {
	Type        OperationType `json:"type"`
	Position    int           `json:"position"`
	Length      int           `json:"length"`
	Text        string        `json:"text,omitempty"`
	BaseVersion int64         `json:"base_version"`
}

// NewInsert creates an edit inserting text at position
func NewInsert(position int, text string, baseVersion int64) Edit {
	return Edit{Type: OpInsert, Position: position, Text: text, BaseVersion: baseVersion}
}

// NewDelete creates an edit removing length runes starting at position
func NewDelete(position, length int, baseVersion int64) Edit {
	return Edit{Type: OpDelete, Position: position, Length: length, BaseVersion: baseVersion}
}

// NewReplace creates an edit replacing length runes at position with text
func NewReplace(position, length int, text string, baseVersion int64) Edit {
	return Edit{Type: OpReplace, Position: position, Length: length, Text: text, BaseVersion: baseVersion}
}

// Validate checks the edit is well formed independently of any content
func (e Edit) Validate() error {
	switch e.Type {
	case OpInsert:
		if e.Text == "" {
			return fmt.Errorf("insert requires text")
		}
		if e.Length != 0 {
			return fmt.Errorf("insert must not carry a length")
		}
	case OpDelete:
		if e.Length <= 0 {
			return fmt.Errorf("delete requires a positive length")
		}
		if e.Text != "" {
			return fmt.Errorf("delete must not carry text")
		}
	case OpReplace:
		if e.Length < 0 {
			return fmt.Errorf("replace length must not be negative")
		}
		if e.Length == 0 && e.Text == "" {
			return fmt.Errorf("replace requires text or a positive length")
		}
	default:
		return fmt.Errorf("unknown edit type %q", e.Type)
	}
	if e.Position < 0 {
		return fmt.Errorf("position must not be negative")
	}
	if e.BaseVersion < 0 {
		return fmt.Errorf("base version must not be negative")
	}
	if !utf8.ValidString(e.Text) {
		return fmt.Errorf("text is not valid UTF-8")
	}
	return nil
}

// End returns the rune offset just past the removed range
func (e Edit) End() int {
	if e.Type == OpInsert {
		return e.Position
	}
	return e.Position + e.Length
}

// Apply returns content with the edit applied. An edit that does not fit
// the content fails with *OutOfRangeError and content is left as is.
func (e Edit) Apply(content string) (string, error) {
	runes := []rune(content)
	if e.Position < 0 || e.Position > len(runes) || e.Length < 0 || e.End() > len(runes) {
		return content, &OutOfRangeError{Position: e.Position, Length: e.Length, ContentLength: len(runes)}
	}

	switch e.Type {
	case OpInsert:
		return string(runes[:e.Position]) + e.Text + string(runes[e.Position:]), nil
	case OpDelete:
		return string(runes[:e.Position]) + string(runes[e.End():]), nil
	case OpReplace:
		return string(runes[:e.Position]) + e.Text + string(runes[e.End():]), nil
	default:
		return content, fmt.Errorf("unknown edit type %q", e.Type)
	}
}

// textLen is the rune length of the inserted text
func (e Edit) textLen() int {
	return utf8.RuneCountInString(e.Text)
}

// Selection is a highlighted range in a participant's view
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Participant is a user connected to a session
type Participant struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"user_name"`
	CursorPosition int       `json:"cursor_position"`
	Selection      Selection `json:"selection"`
	IsActive       bool      `json:"is_active"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Lock is an exclusive claim on the closed rune range [Start, End]
type Lock struct {
	ID        string    `json:"lock_id"`
	UserID    string    `json:"user_id"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

// Overlaps reports whether the closed ranges of l and [start, end] intersect
func (l *Lock) Overlaps(start, end int) bool {
	return l.Start <= end && start <= l.End
}

// HistoryEntry records an applied edit and the version it produced
type HistoryEntry struct {
	UserID    string    `json:"user_id"`
	Edit      Edit      `json:"edit"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
}
