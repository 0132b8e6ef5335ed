// Package postgres provides a Postgres-backed cache store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for cache rows.
type Config struct {
	DSN             string
	Table           string
	Capacity        int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists cache entries in Postgres. It assumes a table schema like:
//
//	CREATE TABLE search_cache (
//		cache_key TEXT PRIMARY KEY,
//		payload JSONB NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		ttl_ns BIGINT NOT NULL
//	);
type Store struct {
	pool     querier
	table    string
	capacity int
	clock    search.Clock
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, clock search.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "search_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &Store{
		pool:     pool,
		table:    table,
		capacity: cfg.Capacity,
		clock:    clock,
	}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string, capacity int, clock search.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "search_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, capacity: capacity, clock: clock}, nil
}

// Get loads the entry for key. Expired rows are deleted and reported as
// absent, matching the in-memory store.
func (s *Store) Get(ctx context.Context, key string) (search.CacheEntry, bool, error) {
	query := fmt.Sprintf(
		`SELECT payload, created_at, ttl_ns FROM %s WHERE cache_key = $1`, s.table)
	var (
		payload   []byte
		createdAt time.Time
		ttlNS     int64
	)
	err := s.pool.QueryRow(ctx, query, key).Scan(&payload, &createdAt, &ttlNS)
	if errors.Is(err, pgx.ErrNoRows) {
		return search.CacheEntry{}, false, nil
	}
	if err != nil {
		return search.CacheEntry{}, false, fmt.Errorf("select cache row: %w", err)
	}

	entry := search.CacheEntry{
		Key:       key,
		CreatedAt: createdAt,
		TTL:       time.Duration(ttlNS),
	}
	if entry.Expired(s.clock.Now()) {
		del := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1`, s.table)
		if _, err := s.pool.Exec(ctx, del, key); err != nil {
			return search.CacheEntry{}, false, fmt.Errorf("delete expired cache row: %w", err)
		}
		return search.CacheEntry{}, false, nil
	}
	if err := json.Unmarshal(payload, &entry.Result); err != nil {
		return search.CacheEntry{}, false, fmt.Errorf("decode cache payload: %w", err)
	}
	return entry, true, nil
}

// Put upserts entry. The insert only proceeds when the key already exists or
// the table holds fewer rows than the configured capacity, so a full table
// rejects new keys without evicting old ones.
func (s *Store) Put(ctx context.Context, entry search.CacheEntry) error {
	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (cache_key, payload, created_at, ttl_ns)
SELECT $1, $2, $3, $4
WHERE EXISTS (SELECT 1 FROM %[1]s WHERE cache_key = $1)
   OR (SELECT COUNT(*) FROM %[1]s) < $5
ON CONFLICT (cache_key) DO UPDATE SET
	payload = EXCLUDED.payload,
	created_at = EXCLUDED.created_at,
	ttl_ns = EXCLUDED.ttl_ns`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		entry.Key, payload, entry.CreatedAt, int64(entry.TTL), s.capacity)
	if err != nil {
		return fmt.Errorf("insert cache row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store %q: %w", entry.Key, search.ErrCacheCapacity)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
