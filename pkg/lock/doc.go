// Package lock serializes schema migrations across processes using a shared lock table.
//
// The package provides the Template type, an execution template that wraps a unit of work
// with acquire and release semantics backed by one row per protected resource:
//
//	resource_name | locked | last_updated
//
// Every caller that uses the same lock table on the same database is excluded from running
// its unit of work for the same resource at the same time. Exclusion is enforced entirely by
// the database's row-level locking; the template holds no cross-process state.
//
// # Lifecycle
//
// A call to Execute moves through a small state machine:
//
//   - Bootstrap: the row for the resource is inserted (unlocked) unless this template already
//     knows it exists. A duplicate-key failure means another participant created it first and
//     is not an error.
//   - Acquire: inside a short transaction the row is read with an exclusive lock. An unlocked
//     row is flipped to locked and committed. A locked row is either reclaimed (when older than
//     the staleness threshold) or left alone while the caller waits one poll interval.
//   - Execute: the unit of work runs with no database transaction open.
//   - Release: the row is flipped back to unlocked in another short transaction, even when the
//     unit of work failed or panicked.
//
// # Waiting
//
// The wait for a held lock polls every PollInterval with no backoff and no limit. It ends when
// ctx is done or, when Config.AcquireTimeout is set, when that much time has passed. Neither
// bound applies to the unit of work itself.
//
// A poll that fails with ErrConflict (a serialization failure, a deadlock, SQLite reporting
// the database as busy, or a Redis WATCH abort) counts as a lost race and is retried after one
// PollInterval. Any other error while polling ends the wait and is returned from the acquire
// phase.
//
// # Stale locks
//
// A holder that crashes leaves its row locked. Once last_updated is older than StaleAfter the
// next participant reclaims the row without waiting. This trades strict mutual exclusion for
// liveness: a holder that is merely slow, not dead, may still be running when its lock is
// reclaimed, and both participants will then believe they hold it. The original holder finds
// the row already unlocked at release time and reports ErrAlreadyUnlocked so the operator can
// verify the outcome. Choose StaleAfter well above the longest expected critical section.
//
// # Errors
//
// Failures are reported as *Error values carrying the Phase that failed. When the unit of work
// fails and the release fails too, the release failure is kept in Error.Suppressed and only the
// first failure is returned through Unwrap.
//
// # Usage Example
//
//	tmpl := lock.New(lock.Config{
//		Store:  store,
//		Logger: slog.Default(),
//	})
//
//	applied, err := lock.Do(ctx, tmpl, "schema_history", func(ctx context.Context) (int, error) {
//		return runner.ApplyPending(ctx)
//	})
//	if err != nil {
//		var lerr *lock.Error
//		if errors.As(err, &lerr) && lerr.Phase == lock.PhaseRelease {
//			log.Printf("migrations ran but the lock could not be released cleanly: %v", err)
//		}
//		log.Fatal(err)
//	}
package lock
