// Package postgres implements the storage port on PostgreSQL schemas. Every
// request gets a dedicated *sql.Conn whose search_path is switched to the
// tenant schema and reset to the default schema before the connection goes
// back to database/sql's pool.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/storage"
)

// Postgres error codes handled by the adapter
const (
	codeDuplicateTable  = "42P07"
	codeDuplicateSchema = "42P06"
	codeUniqueViolation = "23505"
	codeInvalidSchema   = "3F000"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Pool is a storage.Pool over database/sql
type Pool struct {
	db           *sql.DB
	logger       *slog.Logger
	resetTimeout time.Duration
}

// NewPool wraps db. resetTimeout bounds the search_path reset performed on release.
func NewPool(db *sql.DB, resetTimeout time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if resetTimeout <= 0 {
		resetTimeout = 2 * time.Second
	}
	return &Pool{db: db, logger: logger, resetTimeout: resetTimeout}
}

// Acquire checks out a dedicated connection and forces it onto the default schema.
func (p *Pool) Acquire(ctx context.Context) (storage.Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout connection: %w", err)
	}
	s := &Session{conn: conn, pool: p}

	if err := s.ResetPartition(ctx); err != nil {
		s.discard()
		return nil, fmt.Errorf("reset search_path at checkout: %w", err)
	}
	current, err := s.CurrentPartition(ctx)
	if err != nil {
		s.discard()
		return nil, fmt.Errorf("verify search_path at checkout: %w", err)
	}
	if current != domain.DefaultPartition {
		s.discard()
		return nil, fmt.Errorf("connection left on schema %q after reset", current)
	}
	return s, nil
}

// Ping checks connectivity
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close is a no-op; the *sql.DB is owned by pkg/database.
func (p *Pool) Close() error {
	return nil
}

// Session is a storage.Session bound to one *sql.Conn
type Session struct {
	conn     *sql.Conn
	pool     *Pool
	released bool
}

func (s *Session) check() error {
	if s.released {
		return storage.ErrSessionReleased
	}
	return nil
}

func (s *Session) SetPartition(ctx context.Context, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if !storage.ValidIdentifier(name) {
		return storage.ErrInvalidIdentifier
	}
	exists, err := s.PartitionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrPartitionMissing, name)
	}
	if _, err := s.conn.ExecContext(ctx, "SET search_path TO "+pq.QuoteIdentifier(name)); err != nil {
		if pqCode(err) == codeInvalidSchema {
			return fmt.Errorf("%w: %s", storage.ErrPartitionMissing, name)
		}
		return fmt.Errorf("set search_path: %w", err)
	}
	return nil
}

func (s *Session) ResetPartition(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.conn.ExecContext(ctx, "SET search_path TO "+pq.QuoteIdentifier(domain.DefaultPartition))
	if err != nil {
		return fmt.Errorf("reset search_path: %w", err)
	}
	return nil
}

func (s *Session) CurrentPartition(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	var name sql.NullString
	if err := s.conn.QueryRowContext(ctx, "SELECT current_schema()").Scan(&name); err != nil {
		return "", fmt.Errorf("current_schema: %w", err)
	}
	return name.String, nil
}

func (s *Session) PartitionExists(ctx context.Context, name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var exists bool
	err := s.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema %s: %w", name, err)
	}
	return exists, nil
}

func (s *Session) CreatePartition(ctx context.Context, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if !storage.ValidIdentifier(name) {
		return storage.ErrInvalidIdentifier
	}
	_, err := s.conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(name))
	if err != nil && pqCode(err) != codeDuplicateSchema && pqCode(err) != codeUniqueViolation {
		return fmt.Errorf("create schema %s: %w", name, err)
	}
	return nil
}

func (s *Session) TableExists(ctx context.Context, table string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var exists bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return exists, nil
}

// CreateTable issues a plain CREATE TABLE in the current schema. Losing a
// creation race surfaces as storage.ErrAlreadyExists.
func (s *Session) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, createTableSQL(spec)); err != nil {
		switch pqCode(err) {
		case codeDuplicateTable, codeUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, spec.Name)
		}
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

func (s *Session) Insert(ctx context.Context, table string, row storage.Row) error {
	if err := s.check(); err != nil {
		return err
	}
	if !storage.ValidIdentifier(table) {
		return storage.ErrInvalidIdentifier
	}
	keys := sortedKeys(row)
	cols := make([]string, 0, len(keys))
	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		if !storage.ValidIdentifier(k) {
			return storage.ErrInvalidIdentifier
		}
		cols = append(cols, pq.QuoteIdentifier(k))
		vals = append(vals, row[k])
	}
	query, args, err := psql.Insert(pq.QuoteIdentifier(table)).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (s *Session) Select(ctx context.Context, table string, where storage.Row) ([]storage.Row, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !storage.ValidIdentifier(table) {
		return nil, storage.ErrInvalidIdentifier
	}
	b := psql.Select("*").From(pq.QuoteIdentifier(table))
	if len(where) > 0 {
		eq := sq.Eq{}
		for k, v := range where {
			if !storage.ValidIdentifier(k) {
				return nil, storage.ErrInvalidIdentifier
			}
			eq[pq.QuoteIdentifier(k)] = v
		}
		b = b.Where(eq)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	out := []storage.Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r := make(storage.Row, len(cols))
		for i, c := range cols {
			if raw, ok := vals[i].([]byte); ok {
				r[c] = string(raw)
				continue
			}
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Release resets search_path on a context detached from the request so that a
// cancelled request still restores the default schema. If the reset fails the
// connection is discarded instead of being pooled.
func (s *Session) Release(ctx context.Context) error {
	if s.released {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pool.resetTimeout)
	defer cancel()

	if err := s.ResetPartition(rctx); err != nil {
		s.pool.logger.Error("discarding connection after failed reset", slog.String("error", err.Error()))
		s.discard()
		return err
	}
	s.released = true
	return s.conn.Close()
}

// discard closes the connection as bad so database/sql never reuses it.
func (s *Session) discard() {
	s.released = true
	_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = s.conn.Close()
}

func createTableSQL(spec storage.TableSpec) string {
	defs := make([]string, 0, len(spec.Columns)+1)
	var pk []string
	for _, c := range spec.Columns {
		def := pq.QuoteIdentifier(c.Name) + " " + c.Type
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pk = append(pk, pq.QuoteIdentifier(c.Name))
		}
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	return "CREATE TABLE " + pq.QuoteIdentifier(spec.Name) + " (" + strings.Join(defs, ", ") + ")"
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func sortedKeys(r storage.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
