// Package sqlstore is the relational repository. It runs on a single SQLite
// file by default and on PostgreSQL when a database URL is configured.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pharmapos/internal/store"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "pgx"
)

type Store struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// OpenSQLite opens (creating when missing) the database file at path. SQLite
// allows one writer, so the pool is held to a single connection.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is required", store.ErrValidation)
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sqlx.ConnectContext(ctx, string(DialectSQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %w", store.ErrPersistence, path, err)
	}
	db.SetMaxOpenConns(1)

	return newStore(db, DialectSQLite, logger), nil
}

func OpenPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open(string(DialectPostgres), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", store.ErrPersistence, err)
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", store.ErrPersistence, err)
	}

	return newStore(db, DialectPostgres, logger), nil
}

func newStore(db *sqlx.DB, dialect Dialect, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With(zap.String("store", string(dialect))),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

// SetClock replaces the time source used for record timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Backup writes a consistent copy of the SQLite database to destPath.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if s.dialect != DialectSQLite {
		return fmt.Errorf("%w: backup is only available for sqlite storage", store.ErrValidation)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return wrapErr(err)
	}
	s.logger.Info("database backed up", zap.String("path", destPath))
	return nil
}

// withTx runs fn inside one transaction. Any error from fn rolls back every
// statement fn issued.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return wrapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// wrapErr maps driver errors onto the store error kinds. Errors that already
// carry a kind pass through unchanged.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case store.Known(err):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: duplicate value: %w", store.ErrValidation, err)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: record is still referenced: %w", store.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// likeOp is the case-insensitive match operator. SQLite's LIKE folds ASCII
// case only; other letters must match exactly. PostgreSQL's ILIKE folds all.
func (s *Store) likeOp() string {
	if s.dialect == DialectPostgres {
		return "ILIKE"
	}
	return "LIKE"
}

// likePattern builds an escaped substring pattern for use with
// col LIKE ? ESCAPE '\'. Case is left to the operator.
func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(query)) + "%"
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
