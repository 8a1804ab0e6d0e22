// Package sqlite provides a SQLite-backed state store for single-host
// deployments that prefer a database file over JSON.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// DefaultTable holds the check-pass state.
const DefaultTable = "restock_state"

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const schema = `
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	verdict TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	last_checked_at TEXT NOT NULL,
	last_notified_at TEXT
)`

// StateStore implements stock.StateStore on a SQLite database.
type StateStore struct {
	db    *sql.DB
	table string
}

var _ stock.StateStore = (*StateStore)(nil)

// Open opens (creating if needed) the database at path and the state table
// named table, DefaultTable when empty. Several stores may share one file.
func Open(ctx context.Context, path, table string) (*StateStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(schema, table)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &StateStore{db: db, table: table}, nil
}

// Close releases the database handle.
func (s *StateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Load returns every state row keyed by URL.
func (s *StateStore) Load(ctx context.Context) (map[string]stock.StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT url, name, verdict, content_hash, last_checked_at, last_notified_at FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	records := make(map[string]stock.StateRecord)
	for rows.Next() {
		var (
			url, name, verdict, hash, checked string
			notified                          sql.NullString
		)
		if err := rows.Scan(&url, &name, &verdict, &hash, &checked, &notified); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		rec := stock.StateRecord{
			Name:        name,
			Verdict:     stock.ParseVerdict(verdict),
			ContentHash: hash,
		}
		if rec.LastCheckedAt, err = parseTime(checked); err != nil {
			return nil, fmt.Errorf("state %s: %w", url, err)
		}
		if notified.Valid {
			ts, err := parseTime(notified.String)
			if err != nil {
				return nil, fmt.Errorf("state %s: %w", url, err)
			}
			rec.LastNotifiedAt = &ts
		}
		records[url] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state rows: %w", err)
	}
	return records, nil
}

// Save upserts every record in one transaction.
func (s *StateStore) Save(ctx context.Context, records map[string]stock.StateRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback state tx: %w", rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (url, name, verdict, content_hash, last_checked_at, last_notified_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	name = excluded.name,
	verdict = excluded.verdict,
	content_hash = excluded.content_hash,
	last_checked_at = excluded.last_checked_at,
	last_notified_at = excluded.last_notified_at`, s.table))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for url, rec := range records {
		var notified sql.NullString
		if rec.LastNotifiedAt != nil {
			notified = sql.NullString{String: formatTime(*rec.LastNotifiedAt), Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			url, rec.Name, string(rec.Verdict), rec.ContentHash, formatTime(rec.LastCheckedAt), notified,
		); err != nil {
			return fmt.Errorf("upsert state %s: %w", url, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit state tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}
