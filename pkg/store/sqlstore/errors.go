package sqlstore

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PostgreSQL SQLSTATE codes the lock template cares about.
const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// classify maps driver errors onto the lock package sentinels, keeping the driver message.
func classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case isDuplicate(err):
		return errors.Wrapf(lock.ErrDuplicate, "%v", err)
	case isConflict(err):
		return errors.Wrapf(lock.ErrConflict, "%v", err)
	default:
		return err
	}
}

func isDuplicate(err error) bool {
	if sqlState(err) == uniqueViolation {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
	}

	return false
}

func isConflict(err error) bool {
	switch sqlState(err) {
	case serializationFailure, deadlockDetected:
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended result codes keep the primary code in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	return false
}

// sqlState extracts the SQLSTATE from either PostgreSQL driver.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	return ""
}
