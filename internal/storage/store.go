package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/dompet/internal/common"

	_ "github.com/lib/pq" // Postgres driver
)

// DefaultQueryTimeout bounds every store round-trip when none is configured.
const DefaultQueryTimeout = 5 * time.Second

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the tenant-scoped ledger and transcript store.
// It implements service.Ledger and service.TranscriptStore.
type Store struct {
	db           *sql.DB
	dialect      dialect
	queryTimeout time.Duration
}

// Open connects to driver at dsn. For sqlite3 the dsn is a file path or ":memory:".
func Open(driver, dsn string, queryTimeout time.Duration) (*Store, error) {
	if err := validateString(dsn, "dsn"); err != nil {
		return nil, err
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}

	source := dsn
	if driver == DriverSQLite {
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		source = dsn + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open(d.sqlDriver(), source)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", common.ErrStorage, err)
	}

	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases alive and serializes writes.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", common.ErrStorage, err)
	}

	return &Store{db: db, dialect: d, queryTimeout: queryTimeout}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the database driver in use.
func (s *Store) Driver() string {
	return s.dialect.driver
}

// QueryTimeout is the per-call bound applied to every statement.
func (s *Store) QueryTimeout() time.Duration {
	return s.queryTimeout
}

// Ping checks connectivity within the query timeout.
func (s *Store) Ping(ctx context.Context) error {
	return s.write(ctx, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// read runs fn under the query timeout and retries it once on storage failure.
func (s *Store) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
		return classify(fn(callCtx))
	}, common.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
	})
}

// write runs fn exactly once under the query timeout.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return classify(fn(callCtx))
}

// inTx runs fn inside a database transaction, committing only if fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// classify maps driver errors onto the common taxonomy.
// Errors that already belong to it pass through untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", common.ErrNotFound, err)
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrScopeViolation),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrStorage):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
}

// exec renders st and executes it on q.
func (s *Store) exec(ctx context.Context, q queryable, st *statement) (sql.Result, error) {
	query, args, err := st.build(s.dialect)
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, q queryable, st *statement) (*sql.Rows, error) {
	query, args, err := st.build(s.dialect)
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, q queryable, st *statement) (*sql.Row, error) {
	query, args, err := st.build(s.dialect)
	if err != nil {
		return nil, err
	}
	return q.QueryRowContext(ctx, query, args...), nil
}
