package storage

import (
	"context"
	"fmt"

	"github.com/qamatch/collab/pkg/config"
	"github.com/qamatch/collab/pkg/observability"
)

// Open builds the content store selected by cfg.Type, wrapped in a
// BreakerStore when the breaker is enabled
func Open(ctx context.Context, cfg config.StorageConfig, logger observability.Logger) (ContentStore, error) {
	var (
		store ContentStore
		err   error
	)

	switch cfg.Type {
	case "", "memory":
		store = NewMemoryStore()
	case "redis":
		store, err = NewRedisStore(ctx, RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
	case "postgres", "sqlite":
		driver := "postgres"
		if cfg.Type == "sqlite" {
			driver = "sqlite3"
		}
		store, err = NewSQLStore(ctx, DatabaseConfig{
			Driver:          driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Content store opened", map[string]interface{}{
		"type":    cfg.Type,
		"breaker": cfg.Breaker.Enabled,
	})

	if !cfg.Breaker.Enabled {
		return store, nil
	}
	return NewBreakerStore(store, BreakerConfig{
		Name:            "content-store-" + cfg.Type,
		MaxFailures:     cfg.Breaker.MaxFailures,
		OpenTimeout:     cfg.Breaker.OpenTimeout,
		MaxRetries:      cfg.Breaker.MaxRetries,
		InitialInterval: cfg.Breaker.InitialInterval,
	}, logger), nil
}
