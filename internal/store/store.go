package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/pavelanni/paperseal/internal/model"
)

// Driver names accepted by New.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the query methods shared by Store and Tx.
type conn struct {
	q      querier
	driver string
}

// Store is the durable counter store.
type Store struct {
	conn
	db  *sql.DB
	now func() time.Time
}

// Tx is a store transaction. Every Store query method is available on it.
type Tx struct {
	conn
	now func() time.Time
}

// New opens a store. path is a file path for sqlite and a DSN for postgres.
func New(driver, path string) (*Store, error) {
	var db *sql.DB
	var err error
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		db, err = sql.Open("sqlite", sqliteDSN(path))
		if err == nil {
			// Writers serialize on the single connection; the conditional
			// updates stay the authority for the counts.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", path)
		if err == nil {
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(25)
			db.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{conn: conn{q: db, driver: driver}, db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock replaces the time source; used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time {
	return s.now()
}

// Now returns the transaction's current time in UTC.
func (tx *Tx) Now() time.Time {
	return tx.now()
}

// WithTx runs fn in a transaction. fn's error rolls the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{conn: conn{q: sqlTx, driver: s.driver}, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (c conn) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// execAffected runs an update and reports whether any row matched.
func (c conn) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, model.ErrNotFound)
	}
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "DATETIME"
	if s.driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	schema := strings.NewReplacer("{{id}}", id, "{{ts}}", ts).Replace(`
	CREATE TABLE IF NOT EXISTS users (
		id {{id}},
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		created_at {{ts}} NOT NULL,
		expires_at {{ts}} NOT NULL
	);

	CREATE TABLE IF NOT EXISTS papers (
		id {{id}},
		owner_id BIGINT NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		target_count INTEGER NOT NULL DEFAULT 0,
		selected_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		artifact_url TEXT,
		has_sections BOOLEAN NOT NULL DEFAULT FALSE,
		seal_version BIGINT NOT NULL DEFAULT 0,
		finalized_at {{ts}},
		created_at {{ts}} NOT NULL,
		CHECK (selected_count >= 0 AND selected_count <= target_count)
	);

	CREATE TABLE IF NOT EXISTS sections (
		id {{id}},
		paper_id BIGINT NOT NULL REFERENCES papers(id),
		name TEXT NOT NULL,
		section_order INTEGER NOT NULL DEFAULT 0,
		question_count INTEGER NOT NULL DEFAULT 0,
		marks_per_question INTEGER NOT NULL DEFAULT 1,
		selected_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		seal_version BIGINT NOT NULL DEFAULT 0,
		finalized_at {{ts}},
		CHECK (selected_count >= 0 AND selected_count <= question_count)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id {{id}},
		paper_id BIGINT NOT NULL REFERENCES papers(id),
		section_id BIGINT REFERENCES sections(id),
		question_order INTEGER NOT NULL DEFAULT 0,
		is_selected BOOLEAN NOT NULL DEFAULT FALSE,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		answer TEXT NOT NULL DEFAULT '',
		chapter TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '',
		archetype TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_questions_paper ON questions(paper_id, section_id, is_selected);
	CREATE INDEX IF NOT EXISTS idx_questions_section ON questions(section_id, is_selected);
	CREATE INDEX IF NOT EXISTS idx_sections_paper ON sections(paper_id, section_order);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
