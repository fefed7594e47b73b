package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ndx-relay/internal/config"
)

var (
	// ErrNotConfigured indicates the backing store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
	// ErrUnavailable wraps every failure to reach the backing store.
	ErrUnavailable = errors.New("storage: store unavailable")
)

// KV is the minimal key-value surface the dedup gate needs.
type KV interface {
	// Get reports the value under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Open builds the KV backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, db config.DatabaseConfig) (KV, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case config.BackendBuntDB:
		return NewBuntStore(cfg.BuntDB.Path)
	case config.BackendPostgres:
		pool, err := NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
