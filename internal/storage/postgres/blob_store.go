// Package postgres implements a cache backend on a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/document"
)

const defaultTable = "doc_cache"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var _ cache.Backend = (*BlobStore)(nil)

// Config controls the Postgres connection pool used for cache rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// BlobStore keeps one row per cache entry, payload in a bytea column.
type BlobStore struct {
	pool  querier
	table string
}

// New connects to Postgres and ensures the cache table exists.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*BlobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BlobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *BlobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the cache table when it does not exist.
func (s *BlobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	cache_key        TEXT PRIMARY KEY,
	source_url       TEXT NOT NULL,
	content_type     TEXT NOT NULL DEFAULT '',
	size_bytes       BIGINT NOT NULL,
	fetched_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	body             BYTEA NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create cache table: %w", err)
	}
	return nil
}

// Get selects the row for key.
func (s *BlobStore) Get(ctx context.Context, key string) (document.CachedBlob, error) {
	query := fmt.Sprintf(`
SELECT cache_key, source_url, content_type, size_bytes, fetched_at, last_accessed_at, body
FROM %s WHERE cache_key = $1`, s.table)

	var blob document.CachedBlob
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&blob.Key,
		&blob.SourceURL,
		&blob.ContentType,
		&blob.SizeBytes,
		&blob.FetchedAt,
		&blob.LastAccessedAt,
		&blob.Bytes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.CachedBlob{}, document.ErrNotFound
	}
	if err != nil {
		return document.CachedBlob{}, fmt.Errorf("select cache row: %w", err)
	}
	return blob, nil
}

// Put upserts the row for blob.Key.
func (s *BlobStore) Put(ctx context.Context, blob document.CachedBlob) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	cache_key,
	source_url,
	content_type,
	size_bytes,
	fetched_at,
	last_accessed_at,
	body
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (cache_key) DO UPDATE SET
	source_url = EXCLUDED.source_url,
	content_type = EXCLUDED.content_type,
	size_bytes = EXCLUDED.size_bytes,
	fetched_at = EXCLUDED.fetched_at,
	last_accessed_at = EXCLUDED.last_accessed_at,
	body = EXCLUDED.body`, s.table)

	args := []any{
		blob.Key,
		blob.SourceURL,
		blob.ContentType,
		blob.SizeBytes,
		blob.FetchedAt,
		blob.LastAccessedAt,
		blob.Bytes,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert cache row: %w", err)
	}
	return nil
}

// Touch updates last_accessed_at for key.
func (s *BlobStore) Touch(ctx context.Context, key string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_accessed_at = $1 WHERE cache_key = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, at, key)
	if err != nil {
		return fmt.Errorf("touch cache row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

// Delete removes the row for key.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete cache row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.ErrNotFound
	}
	return nil
}

// List selects metadata for every row without the payload column.
func (s *BlobStore) List(ctx context.Context) ([]document.BlobMeta, error) {
	query := fmt.Sprintf(`
SELECT cache_key, source_url, content_type, size_bytes, fetched_at, last_accessed_at
FROM %s`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cache rows: %w", err)
	}
	defer rows.Close()

	var out []document.BlobMeta
	for rows.Next() {
		var meta document.BlobMeta
		if err := rows.Scan(
			&meta.Key,
			&meta.SourceURL,
			&meta.ContentType,
			&meta.SizeBytes,
			&meta.FetchedAt,
			&meta.LastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return out, nil
}
