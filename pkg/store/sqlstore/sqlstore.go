package sqlstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/pseudomuto/schemalock/pkg/utils"
)

const defaultBusyTimeout = 5 * time.Second

var _ lock.Store = (*Store)(nil)

type (
	// Store is a lock.Store backed by a table in a SQL database.
	Store struct {
		db      *sql.DB
		dialect Dialect
		table   string
		q       queries
		owned   bool
	}

	// Options configures a Store.
	Options struct {
		// Driver selects the dialect: pgx, postgres or sqlite (default pgx)
		Driver string

		// URL is the driver-specific connection string, used by Open
		URL string

		// Table is the lock table name, optionally schema-qualified (default schemalock_locks)
		Table string

		// BusyTimeout bounds how long a SQLite connection waits on the write lock (default 5s)
		BusyTimeout time.Duration
	}

	tx struct {
		tx *sql.Tx
		q  queries
	}
)

// Open connects to the database described by opts and returns a Store that owns the
// connection pool.
//
// Example:
//
//	store, err := sqlstore.Open(ctx, sqlstore.Options{Driver: "sqlite", URL: "locks.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	if opts.URL == "" {
		return nil, errors.New("database url is required")
	}

	db, err := sql.Open(dialect.DriverName(), dialect.DSN(opts.URL, opts.BusyTimeout))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", dialect.Name())
	}

	if dialect.Name() == SQLite.Name() {
		// A single connection keeps BEGIN IMMEDIATE from racing against itself in-process.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s database", dialect.Name())
	}

	store, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store.owned = true
	return store, nil
}

// New wraps an existing connection pool. The caller keeps ownership of db.
func New(db *sql.DB, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateIdentifier(opts.Table); err != nil {
		return nil, errors.Wrap(err, "invalid lock table name")
	}

	table := utils.QuoteIdentifier(opts.Table)
	return &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		q:       dialect.queries(table),
	}, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Table returns the quoted lock table name.
func (s *Store) Table() string {
	return s.table
}

// Close closes the connection pool if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}

	return s.db.Close()
}

// Init creates the lock table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.create); err != nil {
		return errors.Wrap(err, "failed to create lock table")
	}

	return nil
}

// List returns every lock row ordered by resource name.
func (s *Store) List(ctx context.Context) ([]lock.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list lock rows")
	}
	defer func() { _ = rows.Close() }()

	var result []lock.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan lock row")
		}
		result = append(result, *row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list lock rows")
	}

	return result, nil
}

// Insert adds an unlocked row for resource.
func (s *Store) Insert(ctx context.Context, resource string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.q.insert, resource, false, at); err != nil {
		return classify(err)
	}

	return nil
}

// Begin starts a transaction on the lock table.
func (s *Store) Begin(ctx context.Context) (lock.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}

	return &tx{tx: sqlTx, q: s.q}, nil
}

func (t *tx) Get(ctx context.Context, resource string) (*lock.Row, error) {
	row, err := scanRow(t.tx.QueryRowContext(ctx, t.q.lock, resource))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(lock.ErrNotFound, "resource %q", resource)
	}
	if err != nil {
		return nil, classify(err)
	}

	return row, nil
}

func (t *tx) Set(ctx context.Context, resource string, locked bool, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.q.update, locked, at, resource)
	if err != nil {
		return classify(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(lock.ErrNotFound, "resource %q", resource)
	}

	return nil
}

func (t *tx) Commit(context.Context) error {
	return classify(t.tx.Commit())
}

func (t *tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*lock.Row, error) {
	var (
		row lock.Row
		ts  Timestamp
	)

	if err := s.Scan(&row.ResourceName, &row.Locked, &ts); err != nil {
		return nil, err
	}

	row.LastUpdated = ts.Time
	return &row, nil
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = consts.DefaultDriver
	}
	if o.Table == "" {
		o.Table = consts.DefaultLockTable
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}

	return o
}
