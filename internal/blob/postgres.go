package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	version    BIGINT NOT NULL,
	expires_at TIMESTAMPTZ
)`

// PostgresStore keeps documents in a single blobs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a pool and verifies the connection.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates the table if needed.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("creating blobs table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		data    []byte
		version int64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT data, version FROM blobs
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return data, version, nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, data []byte, expected int64, ttl time.Duration) (int64, error) {
	var (
		query string
		args  []any
	)
	exp := expiry(ttl)

	switch {
	case expected == Any:
		query = `INSERT INTO blobs (key, data, version, expires_at) VALUES ($1, $2, 1, $3)
			ON CONFLICT (key) DO UPDATE
			SET data = EXCLUDED.data, version = blobs.version + 1, expires_at = EXCLUDED.expires_at
			RETURNING version`
		args = []any{key, data, exp}
	case expected == 0:
		// An expired row counts as absent.
		query = `INSERT INTO blobs (key, data, version, expires_at) VALUES ($1, $2, 1, $3)
			ON CONFLICT (key) DO UPDATE
			SET data = EXCLUDED.data, version = blobs.version + 1, expires_at = EXCLUDED.expires_at
			WHERE blobs.expires_at IS NOT NULL AND blobs.expires_at <= now()
			RETURNING version`
		args = []any{key, data, exp}
	default:
		query = `UPDATE blobs SET data = $2, version = version + 1, expires_at = $3
			WHERE key = $1 AND version = $4 AND (expires_at IS NULL OR expires_at > now())
			RETURNING version`
		args = []any{key, data, exp, expected}
	}

	var version int64
	err := p.pool.QueryRow(ctx, query, args...).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrVersionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("postgres put %s: %w", key, err)
	}
	return version, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM blobs
		 WHERE starts_with(key, $1) AND (expires_at IS NULL OR expires_at > now())`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres list %s: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres list %s: %w", prefix, err)
	}
	return keys, nil
}

var _ Store = (*PostgresStore)(nil)
