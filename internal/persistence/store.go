package persistence

import (
	apperrors "WagerLedger/internal/errors"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the durable home of accounts, escrows, operations and journal
// entries. Mutations happen inside WithTx; reads outside a transaction never
// lock.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	lockTimeout time.Duration
	logger      zerolog.Logger
}

// Open connects to the database named by driver and dsn and verifies the
// connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, 0, err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, 0, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, dialect, nil
}

func NewStore(db *sql.DB, dialect Dialect, lockTimeout time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		db:          db,
		dialect:     dialect,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx), "ping store")
}

// Tx is a settlement transaction. Every method takes row locks or writes
// under the enclosing transaction.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// WithTx runs fn in one transaction. The transaction commits when fn returns
// nil and rolls back otherwise. Driver errors are classified; a failed
// commit is reported as transient when the driver says so.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}

	if stmt := s.dialect.lockTimeoutStmt(s.lockTimeout); stmt != "" {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			sqlTx.Rollback()
			return classify(err, "set lock timeout")
		}
	}

	if err := fn(&Tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return classify(err, "settlement transaction")
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func notFound(what, key, id string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, what+" not found",
		map[string]string{key: id})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
