package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	// Register the PostgreSQL and SQLite drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	createDocumentsTable = `CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

	upsertDocument = `INSERT INTO documents (id, content, version, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET content = excluded.content, version = excluded.version, updated_at = excluded.updated_at
WHERE documents.version <= excluded.version`

	selectDocument = `SELECT id, content, version, updated_at FROM documents WHERE id = ?`
)

// DatabaseConfig holds the connection settings for SQLStore
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements ContentStore on a SQL database through sqlx. The
// same statements serve PostgreSQL and SQLite.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore opens the database, verifies the connection and creates the
// documents table if needed
func NewSQLStore(ctx context.Context, cfg DatabaseConfig) (*SQLStore, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	store := NewSQLStoreWithDB(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreWithDB wraps an existing connection
func NewSQLStoreWithDB(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:  db,
		now: time.Now,
	}
}

// Migrate creates the documents table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createDocumentsTable); err != nil {
		return errors.Wrap(err, "failed to create documents table")
	}
	return nil
}

// SaveContent upserts the document row unless the stored row is newer
func (s *SQLStore) SaveContent(ctx context.Context, documentID, content string, version int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(upsertDocument), documentID, content, version, s.now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to save content for document %s", documentID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to save content for document %s", documentID)
	}
	if affected == 0 {
		return errors.Wrapf(ErrVersionConflict, "document %s", documentID)
	}
	return nil
}

// LoadContent reads the document row
func (s *SQLStore) LoadContent(ctx context.Context, documentID string) (string, int64, error) {
	var doc Document
	if err := s.db.GetContext(ctx, &doc, s.db.Rebind(selectDocument), documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, ErrNotFound
		}
		return "", 0, errors.Wrapf(err, "failed to load content for document %s", documentID)
	}
	return doc.Content, doc.Version, nil
}

// Health pings the database
func (s *SQLStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
