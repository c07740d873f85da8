// Package storage persists document content for the collaboration server.
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no content is stored for a document
var ErrNotFound = errors.New("document content not found")

// ErrVersionConflict is returned when a save would replace stored content
// with an older version
var ErrVersionConflict = errors.New("stored content has a newer version")

// ContentStore saves and loads the text of documents
type ContentStore interface {
	// SaveContent stores content as the latest text of documentID. A save
	// whose version is lower than the stored one fails with
	// ErrVersionConflict and leaves the stored content in place.
	SaveContent(ctx context.Context, documentID, content string, version int64) error

	// LoadContent returns the stored text of documentID or ErrNotFound
	LoadContent(ctx context.Context, documentID string) (content string, version int64, err error)

	// Health reports whether the backend is reachable
	Health(ctx context.Context) error

	// Close releases the backend connection
	Close() error
}

// Document is the stored form of a document's content
type Document struct {
	ID        string    `db:"id" json:"id"`
	Content   string    `db:"content" json:"content"`
	Version   int64     `db:"version" json:"version"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
