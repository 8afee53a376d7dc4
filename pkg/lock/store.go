package lock

import (
	"context"
	"time"
)

type (
	// Row is the decoded state of one resource in the lock table.
	Row struct {
		// ResourceName is the unique key of the row
		ResourceName string

		// Locked reports whether a participant currently holds the resource
		Locked bool

		// LastUpdated is the time of the last transition of Locked
		LastUpdated time.Time
	}

	// Store is the capability the template needs from the database holding the lock table.
	//
	// Implementations must translate a unique-key violation on Insert into ErrDuplicate and
	// should translate retryable transaction conflicts into ErrConflict.
	Store interface {
		// Insert creates an unlocked row for the resource stamped with at.
		Insert(ctx context.Context, resource string, at time.Time) error

		// Begin starts a transaction against the lock table.
		Begin(ctx context.Context) (Tx, error)
	}

	// Tx is a short-lived transaction against the lock table.
	Tx interface {
		// Get reads the row for the resource while holding an exclusive row lock until the
		// transaction ends. It returns ErrNotFound when no row exists.
		Get(ctx context.Context, resource string) (*Row, error)

		// Set updates the locked flag and last_updated timestamp of the row.
		Set(ctx context.Context, resource string, locked bool, at time.Time) error

		Commit(ctx context.Context) error
		Rollback(ctx context.Context) error
	}
)

// Age returns how long ago the row last changed state, relative to now.
func (r *Row) Age(now time.Time) time.Duration {
	return now.Sub(r.LastUpdated)
}

// IsStale reports whether the row is locked and has not been touched for longer than
// staleAfter.
func (r *Row) IsStale(now time.Time, staleAfter time.Duration) bool {
	return r.Locked && r.Age(now) > staleAfter
}
