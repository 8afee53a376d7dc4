// Package sqlstore keeps the schemalock lock table in a SQL database through database/sql.
//
// Three dialects are supported:
//
//   - pgx: PostgreSQL, YugabyteDB and CockroachDB through github.com/jackc/pgx/v5/stdlib (default)
//   - postgres: the same databases through github.com/lib/pq
//   - sqlite: a local SQLite file through modernc.org/sqlite
//
// The PostgreSQL dialects read lock rows with SELECT ... FOR UPDATE, so a poll blocks on a
// row held by another transaction. SQLite has no row locks; the store opens every transaction
// with BEGIN IMMEDIATE and waits on the database write lock instead.
//
// Driver errors are classified for the lock template. Unique violations become
// lock.ErrDuplicate, serialization failures, deadlocks and SQLite BUSY/LOCKED become
// lock.ErrConflict. Anything else is returned unchanged.
//
// # Usage Example
//
//	store, err := sqlstore.Open(ctx, sqlstore.Options{
//		Driver: "pgx",
//		URL:    "postgres://app@localhost:5432/app",
//		Table:  "schemalock_locks",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//
//	tmpl := lock.New(lock.Config{Store: store})
package sqlstore
