package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS dedup_marks (
        day_key    TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        expires_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS relays (
        id         BIGSERIAL PRIMARY KEY,
        event_id   TEXT NOT NULL,
        day_key    TEXT NOT NULL,
        price      NUMERIC NOT NULL,
        endpoints  TEXT[] NOT NULL,
        delivered  INTEGER NOT NULL,
        failed     INTEGER NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	getMarkSQL = `SELECT value
    FROM dedup_marks
    WHERE day_key = $1
      AND (expires_at IS NULL OR expires_at > now());`

	// $3 is the TTL in microseconds; zero or less means no expiry. Expiry is
	// computed on the database clock, the same one reads compare against.
	upsertMarkSQL = `INSERT INTO dedup_marks (day_key, value, expires_at, created_at)
    VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 microsecond' END, now())
    ON CONFLICT (day_key) DO UPDATE
    SET value      = EXCLUDED.value,
        expires_at = EXCLUDED.expires_at,
        created_at = EXCLUDED.created_at;`

	// An expired row counts as absent, so it may be replaced.
	insertMarkIfAbsentSQL = `INSERT INTO dedup_marks (day_key, value, expires_at, created_at)
    VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 microsecond' END, now())
    ON CONFLICT (day_key) DO UPDATE
    SET value      = EXCLUDED.value,
        expires_at = EXCLUDED.expires_at,
        created_at = EXCLUDED.created_at
    WHERE dedup_marks.expires_at IS NOT NULL
      AND dedup_marks.expires_at <= now();`

	listRecentMarksSQL = `SELECT day_key, value, expires_at, created_at
    FROM dedup_marks
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteExpiredMarksSQL = `DELETE FROM dedup_marks WHERE expires_at IS NOT NULL AND expires_at <= now();`

	insertRelaySQL = `INSERT INTO relays (
        event_id,
        day_key,
        price,
        endpoints,
        delivered,
        failed
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentRelaysSQL = `SELECT
        id,
        event_id,
        day_key,
        price::text,
        endpoints,
        delivered,
        failed,
        created_at
    FROM relays
    ORDER BY created_at DESC
    LIMIT $1;`
)

// RelayLog persists relay audit records.
type RelayLog interface {
	InsertRelay(ctx context.Context, rec RelayRecord) (RelayRecord, error)
	ListRecentRelays(ctx context.Context, limit int) ([]RelayRecord, error)
}

// PostgresStore is a KV backend and the relay audit log.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// Get reads an unexpired mark.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}

	var value string
	scanErr := pool.QueryRow(ctx, getMarkSQL, key).Scan(&value)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, unavailable("postgres get mark", scanErr)
	}
	return value, true, nil
}

// Set overwrites a mark.
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertMarkSQL, key, value, ttl.Microseconds()); execErr != nil {
		return unavailable("postgres upsert mark", execErr)
	}
	return nil
}

// SetNX inserts a mark only when no live mark exists under key.
func (s *PostgresStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := pool.Exec(ctx, insertMarkIfAbsentSQL, key, value, ttl.Microseconds())
	if execErr != nil {
		return false, unavailable("postgres insert mark", execErr)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// ListRecentMarks lists marks newest first, expired ones included.
func (s *PostgresStore) ListRecentMarks(ctx context.Context, limit int) ([]Mark, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentMarksSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent marks: %w", queryErr)
	}
	defer rows.Close()

	marks := make([]Mark, 0, limit)
	for rows.Next() {
		var m Mark
		if err := rows.Scan(&m.Key, &m.Value, &m.ExpiresAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		marks = append(marks, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return marks, nil
}

// DeleteExpiredMarks removes marks whose expiry has passed on the database clock.
func (s *PostgresStore) DeleteExpiredMarks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteExpiredMarksSQL)
	if execErr != nil {
		return 0, fmt.Errorf("delete expired marks: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertRelay persists a relay audit record.
func (s *PostgresStore) InsertRelay(ctx context.Context, rec RelayRecord) (RelayRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RelayRecord{}, err
	}

	row := pool.QueryRow(ctx, insertRelaySQL,
		rec.EventID,
		rec.DayKey,
		rec.Price.String(),
		rec.Endpoints,
		rec.Delivered,
		rec.Failed,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return RelayRecord{}, fmt.Errorf("insert relay: %w", scanErr)
	}
	return rec, nil
}

// ListRecentRelays lists the most recent relays.
func (s *PostgresStore) ListRecentRelays(ctx context.Context, limit int) ([]RelayRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRelaysSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent relays: %w", queryErr)
	}
	defer rows.Close()

	relays := make([]RelayRecord, 0, limit)
	for rows.Next() {
		var rec RelayRecord
		var priceStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.DayKey,
			&priceStr,
			&rec.Endpoints,
			&rec.Delivered,
			&rec.Failed,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse relay price: %w", convErr)
		}
		relays = append(relays, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return relays, nil
}

var (
	_ KV       = (*PostgresStore)(nil)
	_ RelayLog = (*PostgresStore)(nil)
)
