// Package sqldb stores invocation records in SQLite through sqlx.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// defaultListLimit caps ListInvocations when no limit is given.
const defaultListLimit = 100

// Store is a SQLite implementation of ports.InvocationStore.
type Store struct {
	db *sqlx.DB
}

var _ ports.InvocationStore = (*Store)(nil)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// NewSQLite opens (creating if needed) the database at dsn. A plain file
// path gets its parent directory created.
func NewSQLite(dsn string) (*Store, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// Every new connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			mount TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			frames INTEGER NOT NULL DEFAULT 0,
			batch_size INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_mount ON invocations(mount, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_status ON invocations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SaveInvocation inserts rec, replacing a record with the same ID.
func (s *Store) SaveInvocation(ctx context.Context, rec *domain.InvocationRecord) error {
	query := `INSERT INTO invocations
		(id, request_id, mount, mode, status, error_kind, error_message, frames, batch_size, duration_ns, created_at)
		VALUES (:id, :request_id, :mount, :mode, :status, :error_kind, :error_message, :frames, :batch_size, :duration_ns, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			error_kind=excluded.error_kind,
			error_message=excluded.error_message,
			frames=excluded.frames,
			duration_ns=excluded.duration_ns`

	row := *rec
	row.CreatedAt = rec.CreatedAt.UTC()
	if _, err := s.db.NamedExecContext(ctx, query, &row); err != nil {
		return fmt.Errorf("failed to save invocation: %w", err)
	}
	return nil
}

// GetInvocation returns the record with id or ports.ErrInvocationNotFound.
func (s *Store) GetInvocation(ctx context.Context, id string) (*domain.InvocationRecord, error) {
	var rec domain.InvocationRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM invocations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invocation %s: %w", id, ports.ErrInvocationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}
	return &rec, nil
}

// ListInvocations returns matching records, newest first.
func (s *Store) ListInvocations(ctx context.Context, opts ports.InvocationListOptions) ([]*domain.InvocationRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.Mount != "" {
		where = append(where, "mount = ?")
		args = append(args, opts.Mount)
	}
	if opts.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(opts.Mode))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	query := `SELECT * FROM invocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, opts.Offset)

	var recs []*domain.InvocationRecord
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	return recs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
