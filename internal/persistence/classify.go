package persistence

import (
	apperrors "WagerLedger/internal/errors"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Postgres SQLSTATE codes the store distinguishes.
const (
	pqUniqueViolation      = "23505"
	pqLockNotAvailable     = "55P03"
	pqDeadlockDetected     = "40P01"
	pqSerializationFailure = "40001"
	pqQueryCanceled        = "57014"
	pqAdminShutdown        = "57P01"
	pqCannotConnectNow     = "57P03"
)

// classify converts a driver error into the settlement taxonomy. Domain
// errors pass through unchanged.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Wrap(apperrors.CodeTransient, message, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperrors.Wrap(apperrors.CodeTransient, message, err)
	}

	// --- Postgres ---
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return apperrors.Wrap(apperrors.CodeConflict, message, err)
		case pqLockNotAvailable, pqDeadlockDetected, pqSerializationFailure,
			pqQueryCanceled, pqAdminShutdown, pqCannotConnectNow:
			return apperrors.Wrap(apperrors.CodeTransient, message, err)
		}
		return apperrors.Wrap(apperrors.CodeInternal, message, err)
	}

	// --- SQLite ---
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperrors.Wrap(apperrors.CodeConflict, message, err)
		case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
			return apperrors.Wrap(apperrors.CodeTransient, message, err)
		}
		return apperrors.Wrap(apperrors.CodeInternal, message, err)
	}

	return apperrors.Wrap(apperrors.CodeInternal, message, err)
}
