package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStoreWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestSQLStore_SaveContent(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (id, content, version, updated_at)\nVALUES ($1, $2, $3, $4)")).
		WithArgs("doc-1", "hello", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveContent(context.Background(), "doc-1", "hello", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveContentOlderVersion(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE documents.version <= excluded.version")).
		WithArgs("doc-1", "old", int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SaveContent(context.Background(), "doc-1", "old", 2)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveContentError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnError(errors.New("connection reset"))

	err := store.SaveContent(context.Background(), "doc-1", "hello", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doc-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadContent(t *testing.T) {
	store, mock := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "content", "version", "updated_at"}).
		AddRow("doc-1", "hello", int64(3), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, content, version, updated_at FROM documents WHERE id = $1")).
		WithArgs("doc-1").
		WillReturnRows(rows)

	content, version, err := store.LoadContent(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
	assert.Equal(t, int64(3), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadContentNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, content, version, updated_at FROM documents")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "version", "updated_at"}))

	_, _, err := store.LoadContent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Migrate(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS documents")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLStore(ctx, DatabaseConfig{
		Driver:       "sqlite3",
		DSN:          ":memory:",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.LoadContent(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveContent(ctx, "doc-1", "first", 1))
	require.NoError(t, store.SaveContent(ctx, "doc-1", "second", 2))

	err = store.SaveContent(ctx, "doc-1", "stale", 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	content, version, err := store.LoadContent(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "second", content)
	assert.Equal(t, int64(2), version)
	assert.NoError(t, store.Health(ctx))
}
