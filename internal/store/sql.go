package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into the $n form PostgreSQL expects.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Repository on database/sql. The same queries serve
// SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ Repository = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	// Timestamps are unix milliseconds so listing order is stable within a second.
	intType := "INTEGER"
	prelude := "PRAGMA busy_timeout = 5000;"
	if s.dialect == dialectPostgres {
		intType = "BIGINT"
		prelude = ""
	}

	query := prelude + `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at ` + intType + ` NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '[]',
		is_visible INTEGER NOT NULL DEFAULT 0,
		created_at ` + intType + ` NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_owner_visible_created ON chats(user_id, is_visible, created_at);
	CREATE INDEX IF NOT EXISTS idx_chats_title_created ON chats(title, created_at);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		aal TEXT NOT NULL,
		created_at ` + intType + ` NOT NULL,
		expires_at ` + intType + ` NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auth_sessions_expires ON auth_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS mfa_factors (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		factor_type TEXT NOT NULL,
		status TEXT NOT NULL,
		secret TEXT NOT NULL,
		created_at ` + intType + ` NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mfa_factors_user ON mfa_factors(user_id);

	CREATE TABLE IF NOT EXISTS mfa_challenges (
		id TEXT PRIMARY KEY,
		factor_id TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at ` + intType + ` NOT NULL,
		expires_at ` + intType + ` NOT NULL,
		consumed_at ` + intType + `
	);
	CREATE INDEX IF NOT EXISTS idx_mfa_challenges_factor ON mfa_challenges(factor_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create %s schema: %w", s.dialect, err)
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// execOne runs an update that must touch exactly one row.
func (s *SQLStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
