package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qamatch/collab/pkg/config"
	"github.com/qamatch/collab/pkg/observability"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := observability.NewNoopLogger()

	store, err := Open(ctx, config.StorageConfig{Type: "memory"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(ctx, config.StorageConfig{
		Type:    "memory",
		Breaker: config.BreakerConfig{Enabled: true, MaxFailures: 2, MaxRetries: 1},
	}, logger)
	require.NoError(t, err)
	breaker, ok := store.(*BreakerStore)
	require.True(t, ok)

	require.NoError(t, breaker.SaveContent(ctx, "doc-1", "abc", 1))
	content, version, err := breaker.LoadContent(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", content)
	assert.Equal(t, int64(1), version)

	_, err = Open(ctx, config.StorageConfig{Type: "cassandra"}, logger)
	assert.Error(t, err)
}
