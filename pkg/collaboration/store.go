package collaboration

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// StoreConfig tunes the session store
type StoreConfig struct {
	// HistoryLimit bounds the history kept by a live session
	HistoryLimit int
	// RetiredHistoryTail is how many entries a destroyed session leaves behind
	RetiredHistoryTail int
	// RetiredSessions bounds how many destroyed sessions keep their tail
	RetiredSessions int
}

// DefaultStoreConfig returns the default store settings
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HistoryLimit:       1000,
		RetiredHistoryTail: 100,
		RetiredSessions:    128,
	}
}

// Store holds the live sessions keyed by document ID. Its mutex guards only
// the map; each session has its own mutex. Code holding a session mutex may
// take the store mutex, never the reverse.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	config  StoreConfig
	retired *lru.Cache[string, []HistoryEntry]
	now     func() time.Time
}

// NewStore creates an empty session store
func NewStore(config StoreConfig) (*Store, error) {
	if config.RetiredSessions <= 0 {
		config.RetiredSessions = DefaultStoreConfig().RetiredSessions
	}
	retired, err := lru.New[string, []HistoryEntry](config.RetiredSessions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create retired history cache")
	}
	return &Store{
		sessions: make(map[string]*Session),
		config:   config,
		retired:  retired,
		now:      time.Now,
	}, nil
}

// CreateIfAbsent returns the session for documentID, creating it with seed
// as its initial content when none exists. created reports which happened.
func (st *Store) CreateIfAbsent(documentID, seed string) (s *Session, created bool) {
	return st.CreateFromSaved(documentID, seed, 0)
}

// CreateFromSaved is CreateIfAbsent for a seed read from the content store
// at savedVersion. Saves of the new session are stored at savedVersion
// plus the session version.
func (st *Store) CreateFromSaved(documentID, seed string, savedVersion int64) (s *Session, created bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[documentID]; ok {
		return s, false
	}
	s = newSession(documentID, seed, st.config.HistoryLimit, st.now())
	s.savedVersion = savedVersion
	st.sessions[documentID] = s
	return s, true
}

// Get returns the live session for documentID
func (st *Store) Get(documentID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[documentID]
	return s, ok
}

// Destroy drops the session for documentID. It reports whether a session
// was removed.
func (st *Store) Destroy(documentID string) bool {
	s, ok := st.Get(documentID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return st.destroyLocked(s)
}

// destroyLocked drops s if it is still the live session for its document
// and keeps its history tail. The caller holds s.mu.
func (st *Store) destroyLocked(s *Session) bool {
	if s.closed {
		return false
	}
	s.closed = true

	if tail := s.historyTail(st.config.RetiredHistoryTail); len(tail) > 0 {
		st.retired.Add(s.documentID, tail)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if current, ok := st.sessions[s.documentID]; ok && current == s {
		delete(st.sessions, s.documentID)
	}
	return true
}

// List returns the live sessions
func (st *Store) List() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	list := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		list = append(list, s)
	}
	return list
}

// Count returns the number of live sessions
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// RetiredHistory returns the history tail kept for a destroyed session
func (st *Store) RetiredHistory(documentID string) ([]HistoryEntry, bool) {
	tail, ok := st.retired.Get(documentID)
	if !ok {
		return nil, false
	}
	out := make([]HistoryEntry, len(tail))
	copy(out, tail)
	return out, true
}
