package sqlstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/pseudomuto/schemalock/pkg/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	insertSQL = `INSERT INTO "schemalock_locks" (resource_name, locked, last_updated) VALUES ($1, $2, $3)`
	selectSQL = `SELECT resource_name, locked, last_updated FROM "schemalock_locks" WHERE resource_name = $1 FOR UPDATE`
	updateSQL = `UPDATE "schemalock_locks" SET locked = $1, last_updated = $2 WHERE resource_name = $3`
	listSQL   = `SELECT resource_name, locked, last_updated FROM "schemalock_locks" ORDER BY resource_name`
	createSQL = `CREATE TABLE IF NOT EXISTS "schemalock_locks" (resource_name VARCHAR(255) PRIMARY KEY, ` +
		`locked BOOLEAN NOT NULL DEFAULT FALSE, last_updated TIMESTAMPTZ NOT NULL)`
)

var columns = []string{"resource_name", "locked", "last_updated"}

func newMockStore(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := sqlstore.New(db, sqlstore.Options{Driver: "pgx"})
	require.NoError(t, err)

	return store, mock
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name    string
		opts    sqlstore.Options
		table   string
		dialect string
		err     string
	}{
		{
			name:    "defaults",
			table:   `"schemalock_locks"`,
			dialect: "pgx",
		},
		{
			name:    "qualified table",
			opts:    sqlstore.Options{Driver: "postgres", Table: "ops.locks"},
			table:   `"ops"."locks"`,
			dialect: "postgres",
		},
		{
			name: "unknown driver",
			opts: sqlstore.Options{Driver: "oracle"},
			err:  `unsupported database driver: "oracle"`,
		},
		{
			name: "invalid table",
			opts: sqlstore.Options{Table: "locks; DROP TABLE users"},
			err:  "invalid lock table name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := sqlstore.New(db, tt.opts)
			if tt.err != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.table, store.Table())
			require.Equal(t, tt.dialect, store.Dialect().Name())
			require.Same(t, db, store.DB())
			require.NoError(t, store.Close())
		})
	}
}

func TestStore_Init(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(createSQL).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Insert(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		dbErr    error
		sentinel error
	}{
		{name: "inserted"},
		{name: "pgx unique violation", dbErr: &pgconn.PgError{Code: "23505"}, sentinel: lock.ErrDuplicate},
		{name: "pq unique violation", dbErr: &pq.Error{Code: "23505"}, sentinel: lock.ErrDuplicate},
		{name: "pgx serialization failure", dbErr: &pgconn.PgError{Code: "40001"}, sentinel: lock.ErrConflict},
		{name: "pq deadlock", dbErr: &pq.Error{Code: "40P01"}, sentinel: lock.ErrConflict},
		{name: "other failure", dbErr: sql.ErrConnDone, sentinel: sql.ErrConnDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			exec := mock.ExpectExec(insertSQL).WithArgs("schema_history", false, at)
			if tt.dbErr != nil {
				exec.WillReturnError(tt.dbErr)
			} else {
				exec.WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err := store.Insert(context.Background(), "schema_history", at)
			if tt.sentinel == nil {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTx_Get(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectSQL).
			WithArgs("schema_history").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("schema_history", true, at))
		mock.ExpectCommit()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)

		row, err := tx.Get(context.Background(), "schema_history")
		require.NoError(t, err)
		require.Equal(t, lock.Row{ResourceName: "schema_history", Locked: true, LastUpdated: at}, *row)

		require.NoError(t, tx.Commit(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("text timestamp", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectSQL).
			WithArgs("schema_history").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("schema_history", false, "2024-01-02 03:04:05+00:00"))
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)

		row, err := tx.Get(context.Background(), "schema_history")
		require.NoError(t, err)
		require.True(t, at.Equal(row.LastUpdated))
		require.False(t, row.Locked)

		require.NoError(t, tx.Rollback(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectSQL).
			WithArgs("schema_history").
			WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)

		_, err = tx.Get(context.Background(), "schema_history")
		require.True(t, errors.Is(err, lock.ErrNotFound))

		require.NoError(t, tx.Rollback(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serialization failure", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectSQL).
			WithArgs("schema_history").
			WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)

		_, err = tx.Get(context.Background(), "schema_history")
		require.True(t, errors.Is(err, lock.ErrConflict))
		require.Contains(t, err.Error(), "could not serialize access")

		require.NoError(t, tx.Rollback(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTx_Set(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("updated", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(updateSQL).WithArgs(true, at, "schema_history").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Set(context.Background(), "schema_history", true, at))
		require.NoError(t, tx.Commit(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(updateSQL).WithArgs(false, at, "schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)

		err = tx.Set(context.Background(), "schema_history", false, at)
		require.True(t, errors.Is(err, lock.ErrNotFound))

		require.NoError(t, tx.Rollback(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit conflict", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(updateSQL).WithArgs(true, at, "schema_history").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

		tx, err := store.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Set(context.Background(), "schema_history", true, at))

		err = tx.Commit(context.Background())
		require.True(t, errors.Is(err, lock.ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(listSQL).WillReturnRows(sqlmock.NewRows(columns).
		AddRow("a", false, at).
		AddRow("b", true, at.Add(time.Minute)),
	)

	rows, err := store.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []lock.Row{
		{ResourceName: "a", Locked: false, LastUpdated: at},
		{ResourceName: "b", Locked: true, LastUpdated: at.Add(time.Minute)},
	}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TemplateRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	later := at.Add(2 * time.Second)

	mock.ExpectExec(insertSQL).
		WithArgs("schema_history", false, sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	// acquire
	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).
		WithArgs("schema_history").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("schema_history", false, at))
	mock.ExpectExec(updateSQL).WithArgs(true, sqlmock.AnyArg(), "schema_history").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// release
	mock.ExpectBegin()
	mock.ExpectQuery(selectSQL).
		WithArgs("schema_history").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("schema_history", true, later))
	mock.ExpectExec(updateSQL).WithArgs(false, sqlmock.AnyArg(), "schema_history").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tmpl := lock.New(lock.Config{Store: store, Now: func() time.Time { return later }})
	got, err := lock.Do(context.Background(), tmpl, "schema_history", func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialect(t *testing.T) {
	tests := []struct {
		name     string
		dialect  sqlstore.Dialect
		query    string
		expected string
	}{
		{
			name:     "pgx numbers placeholders",
			dialect:  sqlstore.PGX,
			query:    "SELECT a FROM t WHERE b = ? AND c = ?",
			expected: "SELECT a FROM t WHERE b = $1 AND c = $2",
		},
		{
			name:     "literals are skipped",
			dialect:  sqlstore.Postgres,
			query:    "SELECT '?' FROM t WHERE b = ?",
			expected: "SELECT '?' FROM t WHERE b = $1",
		},
		{
			name:     "sqlite keeps question marks",
			dialect:  sqlstore.SQLite,
			query:    "SELECT a FROM t WHERE b = ?",
			expected: "SELECT a FROM t WHERE b = ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.dialect.Rebind(tt.query))
		})
	}
}

func TestDialect_DSN(t *testing.T) {
	require.Equal(t, "postgres://localhost/app", sqlstore.PGX.DSN("postgres://localhost/app", time.Second))
	require.Equal(t,
		"locks.db?_pragma=busy_timeout%281500%29&_time_format=sqlite&_txlock=immediate",
		sqlstore.SQLite.DSN("locks.db", 1500*time.Millisecond),
	)
	require.Equal(t,
		"file:locks.db?mode=rwc&_pragma=busy_timeout%281000%29&_time_format=sqlite&_txlock=immediate",
		sqlstore.SQLite.DSN("file:locks.db?mode=rwc", time.Second),
	)
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"pgx", "postgres", "sqlite"} {
		d, err := sqlstore.DialectFor(name)
		require.NoError(t, err)
		require.Equal(t, name, d.Name())
		require.Equal(t, name, d.DriverName())
	}

	_, err := sqlstore.DialectFor("mysql")
	require.Error(t, err)
}
