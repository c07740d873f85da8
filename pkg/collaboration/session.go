package collaboration

import (
	"sort"
	"sync"
	"time"
)

// Session is the live state of one document. All fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	// saveMu serializes writes to the content store. It is taken before mu.
	saveMu sync.Mutex

	documentID   string
	content      string
	version      int64
	participants map[string]*Participant
	locks        map[string]*Lock
	history      []HistoryEntry
	historyLimit int
	createdAt    time.Time

	// savedVersion is the stored version the content was loaded at. The
	// stored version of a save is savedVersion + version.
	savedVersion int64

	// closed is set once the store has dropped the session
	closed bool
}

func newSession(documentID, content string, historyLimit int, now time.Time) *Session {
	return &Session{
		documentID:   documentID,
		content:      content,
		participants: make(map[string]*Participant),
		locks:        make(map[string]*Lock),
		historyLimit: historyLimit,
		createdAt:    now,
	}
}

// DocumentID returns the document the session edits
func (s *Session) DocumentID() string {
	return s.documentID
}

// Content returns the current text and version
func (s *Session) Content() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.version
}

// CreatedAt returns when the session was created
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// applyEdit rebases edit against the history newer than its base version,
// applies it and records it. On error the session is unchanged. The caller
// holds s.mu.
func (s *Session) applyEdit(userID string, edit Edit, now time.Time) (HistoryEntry, error) {
	oldest := s.version - int64(len(s.history))
	if edit.BaseVersion < oldest || edit.BaseVersion > s.version {
		return HistoryEntry{}, &StaleBaseVersionError{
			BaseVersion:   edit.BaseVersion,
			OldestVersion: oldest,
			Version:       s.version,
		}
	}

	rebased := Rebase(edit, s.history)
	rebased.BaseVersion = s.version

	content, err := rebased.Apply(s.content)
	if err != nil {
		return HistoryEntry{}, err
	}

	s.content = content
	s.version++

	entry := HistoryEntry{
		UserID:    userID,
		Edit:      rebased,
		Timestamp: now,
		Version:   s.version,
	}
	s.history = append(s.history, entry)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		trimmed := make([]HistoryEntry, s.historyLimit)
		copy(trimmed, s.history[len(s.history)-s.historyLimit:])
		s.history = trimmed
	}
	return entry, nil
}

// historyTail returns a copy of the last n history entries. The caller holds s.mu.
func (s *Session) historyTail(n int) []HistoryEntry {
	if n <= 0 || len(s.history) == 0 {
		return nil
	}
	if n > len(s.history) {
		n = len(s.history)
	}
	tail := make([]HistoryEntry, n)
	copy(tail, s.history[len(s.history)-n:])
	return tail
}

// participantList returns copies of the participants ordered by join time.
// The caller holds s.mu.
func (s *Session) participantList() []Participant {
	list := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

// activeUserIDs returns participant IDs ordered by join time. The caller holds s.mu.
func (s *Session) activeUserIDs() []string {
	list := s.participantList()
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.UserID
	}
	return ids
}

// lockList returns copies of the locks ordered by start offset. The caller holds s.mu.
func (s *Session) lockList() []Lock {
	list := make([]Lock, 0, len(s.locks))
	for _, l := range s.locks {
		list = append(list, *l)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Start != list[j].Start {
			return list[i].Start < list[j].Start
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// info builds a read-only view of the session. The caller holds s.mu.
func (s *Session) info() *SessionInfo {
	return &SessionInfo{
		DocumentID:    s.documentID,
		Version:       s.version,
		ContentLength: len([]rune(s.content)),
		ActiveUsers:   len(s.participants),
		Participants:  s.participantList(),
		Locks:         s.lockList(),
		HistorySize:   len(s.history),
		CreatedAt:     s.createdAt,
	}
}

// SessionInfo summarizes a session for monitoring and the REST surface
type SessionInfo struct {
	DocumentID    string        `json:"content_id"`
	Version       int64         `json:"version"`
	ContentLength int           `json:"content_length"`
	ActiveUsers   int           `json:"active_users"`
	Participants  []Participant `json:"users"`
	Locks         []Lock        `json:"locked_sections"`
	HistorySize   int           `json:"history_size"`
	CreatedAt     time.Time     `json:"created_at"`
}
