package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings for RedisStore
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// saveScript writes the document hash unless the stored version is newer.
// It returns 0 when the write was refused.
var saveScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'version')
if stored and tonumber(stored) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'content', ARGV[1], 'version', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

// RedisStore implements ContentStore with one Redis hash per document
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (s *RedisStore) key(documentID string) string {
	return s.keyPrefix + documentID
}

// SaveContent writes the document hash unless the stored version is newer
func (s *RedisStore) SaveContent(ctx context.Context, documentID, content string, version int64) error {
	written, err := saveScript.Run(ctx, s.client, []string{s.key(documentID)},
		content, version, s.now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return errors.Wrapf(err, "failed to save content for document %s", documentID)
	}
	if written == 0 {
		return errors.Wrapf(ErrVersionConflict, "document %s", documentID)
	}
	return nil
}

// LoadContent reads the document hash
func (s *RedisStore) LoadContent(ctx context.Context, documentID string) (string, int64, error) {
	fields, err := s.client.HGetAll(ctx, s.key(documentID)).Result()
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to load content for document %s", documentID)
	}
	if len(fields) == 0 {
		return "", 0, ErrNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid stored version for document %s", documentID)
	}
	return fields["content"], version, nil
}

// Health pings Redis
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
