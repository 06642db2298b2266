// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bulk-fetcher/internal/storage"
)

const defaultTable = "fetch_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ResultStoreConfig controls the Postgres connection pool used for result rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes result rows into Postgres.
type ResultStore struct {
	pool  execCloser
	table string
	query string
}

// NewResultStore creates a Postgres-backed ResultStore using the provided config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newResultStore(pool, table), nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool execCloser, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newResultStore(pool, name), nil
}

func newResultStore(pool execCloser, table string) *ResultStore {
	return &ResultStore{
		pool:  pool,
		table: table,
		query: fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	code,
	raw_status,
	body_sha256,
	body_bytes,
	pass,
	completed_at,
	blob_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, table),
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreResult inserts one result row.
func (s *ResultStore) StoreResult(ctx context.Context, rec storage.ResultRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if rec.URL == "" {
		return fmt.Errorf("record url is required")
	}
	args := []any{
		rec.RunID,
		rec.URL,
		rec.Code,
		rec.RawStatus,
		rec.BodyHash,
		rec.BodyBytes,
		rec.Pass,
		rec.CompletedAt,
		rec.BlobURI,
	}
	if _, err := s.pool.Exec(ctx, s.query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}
