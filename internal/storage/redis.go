package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ndx-relay/internal/config"
)

// RedisStore keeps dedup marks in Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects using cfg.URL. Managed Redis offerings that only
// speak TLS under a redis:// URL are retried over TLS when TLSFallback is set.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store.redis.url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	rdb := redis.NewClient(opts)
	pingErr := rdb.Ping(ctx).Err()
	if pingErr == nil {
		return &RedisStore{rdb: rdb}, nil
	}
	_ = rdb.Close()

	if !cfg.TLSFallback || opts.TLSConfig != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	rdb = redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis (plain: %v): %w", pingErr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// Get reads key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("redis get", err)
	}
	return val, true, nil
}

// Set overwrites key.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

// SetNX writes key only if it does not exist yet.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("redis setnx", err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ KV = (*RedisStore)(nil)
