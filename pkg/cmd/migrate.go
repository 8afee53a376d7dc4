package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/migrate"
	"github.com/urfave/cli/v3"
)

// migrateCmd creates the migrate command for applying pending migrations.
//
// Migrations are the .sql files in migrations.dir, applied in version order while holding
// the lock named after the history table. Processes started concurrently (for example by
// every replica of a deployment) wait for each other, and all but the first find nothing
// left to do.
//
// Command flags:
//   - --dry-run: List pending migrations without taking the lock or applying anything
//
// Example usage:
//
//	# Apply all pending migrations
//	schemalock migrate
//
//	# Give up if another deployment holds the lock for more than 5 minutes
//	schemalock --timeout 5m migrate
//
//	# Show what would be applied
//	schemalock migrate --dry-run
func migrateCmd(env *Env) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"apply"},
		Usage:   "Apply pending SQL migrations under the lock",
		Description: `Apply every pending migration in migrations.dir to the configured database.

Each migration runs in its own transaction and is recorded in migrations.history_table.
The run stops at the first failure. Migrations that were changed after being applied
are reported as an error before anything runs.`,
		Before: requireConfig(env),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "list pending migrations without applying them",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := migrate.LoadDir(os.DirFS(env.Config.Migrations.Dir))
			if err != nil {
				return errors.Wrapf(err, "failed to load migrations from %s", env.Config.Migrations.Dir)
			}

			db, err := openDatabase(ctx, cmd, env.Config)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			store, err := openLockStore(ctx, cmd, env.Config, db)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return err
			}

			runner, err := migrate.NewRunner(migrate.Config{
				DB:           db.DB(),
				Dialect:      db.Dialect(),
				Template:     newTemplate(env, cmd, store),
				HistoryTable: env.Config.Migrations.HistoryTable,
				Now:          env.Now,
			})
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			if cmd.Bool("dry-run") {
				pending, err := runner.Pending(ctx, dir)
				if err != nil {
					return err
				}

				return writePending(w, pending)
			}

			results, err := runner.Run(ctx, dir)
			writeResults(w, results)
			return err
		},
	}
}

func writePending(w io.Writer, pending []*migrate.Migration) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintln(w, "No pending migrations.")
		return err
	}

	fmt.Fprintf(w, "%d pending migration(s):\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(w, "  %s (%d statements)\n", m.Version, len(m.Statements))
	}

	return nil
}

func writeResults(w io.Writer, results []*migrate.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return
	}

	applied := 0
	for _, r := range results {
		switch r.Status {
		case migrate.StatusSuccess:
			applied++
			fmt.Fprintf(w, "Applied %s in %s\n", r.Version, r.ExecutionTime.Round(time.Millisecond))
		case migrate.StatusFailed:
			fmt.Fprintf(w, "Failed %s after %d statement(s)\n", r.Version, r.Statements)
		}
	}

	if applied == 0 && results[len(results)-1].Status == migrate.StatusSkipped {
		fmt.Fprintln(w, "Database is up to date.")
		return
	}

	if applied > 0 {
		fmt.Fprintf(w, "%d migration(s) applied.\n", applied)
	}
}
