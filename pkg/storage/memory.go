package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements ContentStore using an in-memory map.
// This is primarily for development and testing purposes.
type MemoryStore struct {
	documents map[string]Document
	lock      sync.RWMutex
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory content store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		now:       time.Now,
	}
}

// SaveContent stores content in memory
func (s *MemoryStore) SaveContent(ctx context.Context, documentID, content string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if stored, ok := s.documents[documentID]; ok && stored.Version > version {
		return ErrVersionConflict
	}
	s.documents[documentID] = Document{
		ID:        documentID,
		Content:   content,
		Version:   version,
		UpdatedAt: s.now(),
	}
	return nil
}

// LoadContent retrieves content from memory
func (s *MemoryStore) LoadContent(ctx context.Context, documentID string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return "", 0, ErrNotFound
	}
	return doc.Content, doc.Version, nil
}

// Get returns the stored document, mainly for tests
func (s *MemoryStore) Get(documentID string) (Document, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	doc, ok := s.documents[documentID]
	return doc, ok
}

// Health always succeeds
func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
