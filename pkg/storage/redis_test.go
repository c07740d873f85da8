package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{
		Address:   mr.Addr(),
		KeyPrefix: "collab:content:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveContent(ctx, "doc-1", "héllo", 7))

	assert.Equal(t, "héllo", mr.HGet("collab:content:doc-1", "content"))
	assert.Equal(t, "7", mr.HGet("collab:content:doc-1", "version"))

	content, version, err := store.LoadContent(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "héllo", content)
	assert.Equal(t, int64(7), version)
}

func TestRedisStore_RejectsOlderVersion(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveContent(ctx, "doc-1", "new", 5))
	err := store.SaveContent(ctx, "doc-1", "old", 4)
	assert.ErrorIs(t, err, ErrVersionConflict)

	assert.Equal(t, "new", mr.HGet("collab:content:doc-1", "content"))
	assert.Equal(t, "5", mr.HGet("collab:content:doc-1", "version"))
}

func TestRedisStore_NotFound(t *testing.T) {
	store, _ := setupRedisStore(t)

	_, _, err := store.LoadContent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CorruptVersion(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.HSet("collab:content:doc-1", "content", "x", "version", "abc")

	_, _, err := store.LoadContent(context.Background(), "doc-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Health(t *testing.T) {
	store, mr := setupRedisStore(t)
	assert.NoError(t, store.Health(context.Background()))

	mr.Close()
	assert.Error(t, store.Health(context.Background()))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{Address: addr})
	assert.Error(t, err)
}

func TestNewRedisStoreWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "")
	defer store.Close()

	require.NoError(t, store.SaveContent(context.Background(), "doc-2", "", 0))
	content, version, err := store.LoadContent(context.Background(), "doc-2")
	require.NoError(t, err)
	assert.Equal(t, "", content)
	assert.Equal(t, int64(0), version)
}
