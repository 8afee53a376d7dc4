package migrate

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/pseudomuto/schemalock/pkg/store/sqlstore"
	"github.com/pseudomuto/schemalock/pkg/utils"
)

type (
	// Runner applies migrations to a database while holding the schemalock lock named after
	// the history table, so concurrent deployments never run the same migrations twice.
	//
	// Example usage:
	//
	//	runner, err := migrate.NewRunner(migrate.Config{
	//		DB:       store.DB(),
	//		Dialect:  store.Dialect(),
	//		Template: lock.New(lock.Config{Store: store}),
	//	})
	//	if err != nil {
	//		return err
	//	}
	//
	//	results, err := runner.Run(ctx, dir)
	//	for _, result := range results {
	//		fmt.Printf("%s: %s\n", result.Version, result.Status)
	//	}
	Runner struct {
		db       *sql.DB
		dialect  sqlstore.Dialect
		template *lock.Template
		resource string
		table    string
		logger   *slog.Logger
		now      func() time.Time
	}

	// Config contains configuration options for creating a new Runner.
	Config struct {
		// DB is the database migrations are applied to (required)
		DB *sql.DB

		// Dialect of DB (required)
		Dialect sqlstore.Dialect

		// Template serializes runs across processes (required)
		Template *lock.Template

		// HistoryTable records applied migrations (default schemalock_history)
		HistoryTable string

		// Logger defaults to slog.Default()
		Logger *slog.Logger

		// Now stamps history rows (default time.Now in UTC)
		Now func() time.Time
	}

	// Result is the outcome of one migration in a run.
	Result struct {
		Version       string
		Status        Status
		Error         error
		ExecutionTime time.Duration
		Statements    int
	}

	// Status of a migration in a run.
	Status string

	// Record is a row of the history table.
	Record struct {
		Version         string
		Hash            string
		AppliedAt       time.Time
		ExecutionTimeMS int64
	}
)

const (
	// StatusSuccess indicates the migration was applied
	StatusSuccess Status = "success"

	// StatusFailed indicates the migration failed and was rolled back
	StatusFailed Status = "failed"

	// StatusSkipped indicates the migration had already been applied
	StatusSkipped Status = "skipped"
)

// NewRunner creates a Runner from cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.DB == nil {
		return nil, errors.New("migration runner requires a database")
	}
	if cfg.Template == nil {
		return nil, errors.New("migration runner requires a lock template")
	}
	if cfg.Dialect.Name() == "" {
		return nil, errors.New("migration runner requires a sql dialect")
	}

	if cfg.HistoryTable == "" {
		cfg.HistoryTable = consts.DefaultHistoryTable
	}
	if err := utils.ValidateIdentifier(cfg.HistoryTable); err != nil {
		return nil, errors.Wrap(err, "invalid history table name")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Runner{
		db:       cfg.DB,
		dialect:  cfg.Dialect,
		template: cfg.Template,
		resource: cfg.HistoryTable,
		table:    utils.QuoteIdentifier(cfg.HistoryTable),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Run applies every pending migration in dir while holding the lock.
//
// Each migration runs in its own database transaction together with its history row. The run
// stops at the first failure; earlier migrations stay applied. Applied migrations whose file
// changed since they ran fail the run before anything is applied.
//
// The returned error is a *lock.Error when the lock could not be taken or released, or when
// a migration failed.
func (r *Runner) Run(ctx context.Context, dir *Dir) ([]*Result, error) {
	return lock.Do(ctx, r.template, r.resource, func(ctx context.Context) ([]*Result, error) {
		if err := r.ensureHistory(ctx); err != nil {
			return nil, err
		}

		applied, err := r.History(ctx)
		if err != nil {
			return nil, err
		}

		if err := verify(dir, applied); err != nil {
			return nil, err
		}

		done := make(map[string]bool, len(applied))
		for _, rec := range applied {
			done[rec.Version] = true
		}

		results := make([]*Result, 0, len(dir.Migrations))
		for _, m := range dir.Migrations {
			if done[m.Version] {
				results = append(results, &Result{Version: m.Version, Status: StatusSkipped, Statements: len(m.Statements)})
				continue
			}

			result := r.apply(ctx, m)
			results = append(results, result)

			if result.Status == StatusFailed {
				return results, errors.Wrapf(result.Error, "migration %s failed", m.Version)
			}
		}

		return results, nil
	})
}

// Pending lists the migrations in dir that have not been applied, without taking the lock.
// The history table is created if it does not exist.
func (r *Runner) Pending(ctx context.Context, dir *Dir) ([]*Migration, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}

	applied, err := r.History(ctx)
	if err != nil {
		return nil, err
	}

	if err := verify(dir, applied); err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	var pending []*Migration
	for _, m := range dir.Migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}

	return pending, nil
}

// History returns the applied migrations ordered by version.
func (r *Runner) History(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT version, hash, applied_at, execution_time_ms FROM "+r.table+" ORDER BY version",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load migration history")
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			rec Record
			at  sqlstore.Timestamp
		)
		if err := rows.Scan(&rec.Version, &rec.Hash, &at, &rec.ExecutionTimeMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration history")
		}

		rec.AppliedAt = at.Time
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to load migration history")
	}

	return records, nil
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + r.table + " (" +
		"version VARCHAR(255) PRIMARY KEY, " +
		"hash VARCHAR(64) NOT NULL, " +
		"applied_at " + r.dialect.TimestampType() + " NOT NULL, " +
		"execution_time_ms BIGINT NOT NULL)"

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "failed to create migration history table")
	}

	return nil
}

func (r *Runner) apply(ctx context.Context, m *Migration) *Result {
	start := time.Now()
	result := &Result{Version: m.Version, Status: StatusSuccess}

	fail := func(err error) *Result {
		result.Status = StatusFailed
		result.Error = err
		result.ExecutionTime = time.Since(start)
		r.logger.Error("Migration failed", "version", m.Version, "applied", result.Statements, "err", err)
		return result
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(errors.Wrap(err, "failed to begin migration transaction"))
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fail(errors.Wrapf(err, "failed to execute statement %d", i+1))
		}
		result.Statements++
	}

	result.ExecutionTime = time.Since(start)

	insert := r.dialect.Rebind("INSERT INTO " + r.table + " (version, hash, applied_at, execution_time_ms) VALUES (?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, insert, m.Version, m.Hash, r.now(), result.ExecutionTime.Milliseconds()); err != nil {
		return fail(errors.Wrap(err, "failed to record migration"))
	}

	if err := tx.Commit(); err != nil {
		return fail(errors.Wrap(err, "failed to commit migration"))
	}

	r.logger.Info("Applied migration",
		"version", m.Version,
		"statements", result.Statements,
		"duration", result.ExecutionTime,
	)
	return result
}

func verify(dir *Dir, applied []Record) error {
	for _, rec := range applied {
		m := dir.Find(rec.Version)
		if m == nil {
			continue
		}

		if m.Hash != rec.Hash {
			return errors.Errorf("migration %s was modified after it was applied (recorded %s, found %s)",
				rec.Version, rec.Hash, m.Hash)
		}
	}

	return nil
}
