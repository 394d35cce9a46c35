package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripwire/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxValueSize caps serialized cache values to prevent excessive memory
// usage on the backend (1MB is far above any indicator record).
const maxValueSize = 1 << 20

// RedisCache implements Cache on top of a Redis server. Values are msgpack
// encoded; key expiry is enforced by Redis itself.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance.
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value with expiration.
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		rc.logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return err
	}

	if len(data) > maxValueSize {
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(data))
	}

	if err := rc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}
	return nil
}

// Get retrieves a value. A missing key is (false, nil), not an error.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return false, nil
		}
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		rc.logger.Errorf("Failed to unmarshal cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, err
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

// SAdd adds members to a set.
func (rc *RedisCache) SAdd(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := rc.client.SAdd(ctx, set, args...).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "sadd").Inc()
		return err
	}
	return nil
}

// SMembers enumerates a set.
func (rc *RedisCache) SMembers(ctx context.Context, set string) ([]string, error) {
	members, err := rc.client.SMembers(ctx, set).Result()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "smembers").Inc()
		return nil, err
	}
	return members, nil
}

// SCard returns the cardinality of a set.
func (rc *RedisCache) SCard(ctx context.Context, set string) (int64, error) {
	n, err := rc.client.SCard(ctx, set).Result()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "scard").Inc()
		return 0, err
	}
	return n, nil
}
