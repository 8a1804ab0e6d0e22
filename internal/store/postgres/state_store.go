// Package postgres provides a Postgres-backed state store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultTable names the state table when Config.Table is empty.
const DefaultTable = "restock_state"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for state rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// StateStore implements stock.StateStore on a single upserted table.
type StateStore struct {
	pool  pool
	table string
}

var _ stock.StateStore = (*StateStore)(nil)

// NewStateStore connects to Postgres and ensures the state table exists.
func NewStateStore(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &StateStore{pool: p, table: table}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStateStoreWithPool(p pool, table string) (*StateStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &StateStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the state table when missing.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	verdict TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	last_checked_at TIMESTAMPTZ NOT NULL,
	last_notified_at TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Load returns every state row keyed by URL.
func (s *StateStore) Load(ctx context.Context) (map[string]stock.StateRecord, error) {
	query := fmt.Sprintf(`
SELECT url, name, verdict, content_hash, last_checked_at, last_notified_at
FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	records := make(map[string]stock.StateRecord)
	for rows.Next() {
		var (
			url, name, verdict, hash string
			checked                  time.Time
			notified                 *time.Time
		)
		if err := rows.Scan(&url, &name, &verdict, &hash, &checked, &notified); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		records[url] = stock.StateRecord{
			Name:           name,
			Verdict:        stock.ParseVerdict(verdict),
			ContentHash:    hash,
			LastCheckedAt:  checked.UTC(),
			LastNotifiedAt: utcPtr(notified),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state rows: %w", err)
	}
	return records, nil
}

// Save upserts every record in one transaction. Rows absent from records are
// left in place.
func (s *StateStore) Save(ctx context.Context, records map[string]stock.StateRecord) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback state tx: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (url, name, verdict, content_hash, last_checked_at, last_notified_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
	name = EXCLUDED.name,
	verdict = EXCLUDED.verdict,
	content_hash = EXCLUDED.content_hash,
	last_checked_at = EXCLUDED.last_checked_at,
	last_notified_at = EXCLUDED.last_notified_at`, s.table)

	urls := make([]string, 0, len(records))
	for url := range records {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		rec := records[url]
		if _, err = tx.Exec(ctx, query,
			url, rec.Name, string(rec.Verdict), rec.ContentHash, rec.LastCheckedAt, rec.LastNotifiedAt,
		); err != nil {
			return fmt.Errorf("upsert state %s: %w", url, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state tx: %w", err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
