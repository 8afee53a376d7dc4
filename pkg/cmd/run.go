package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

// run creates the run command, which executes an external command while holding a lock.
//
// The command's exit status is the result of the unit of work: a non-zero exit fails the
// command after the lock has been released.
//
// Command flags:
//   - --resource, -r: Name of the lock to hold (required)
//
// Example usage:
//
//	schemalock run --resource nightly-backfill -- ./backfill.sh --since yesterday
//	schemalock --timeout 10m run -r reindex -- psql -f reindex.sql
func run(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a command while holding a lock",
		ArgsUsage: "-- COMMAND [ARGS...]",
		Description: `Acquire the lock named by --resource, run COMMAND and release the lock.

Other invocations with the same resource wait for the lock, so at most one COMMAND
runs at a time across every host sharing the lock table.`,
		Before: requireConfig(env),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "resource",
				Aliases:  []string{"r"},
				Usage:    "name of the lock to hold",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("run requires a command, e.g. schemalock run -r job -- ./job.sh")
			}
			resource := cmd.String("resource")

			store, err := openLockStore(ctx, cmd, env.Config, nil)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return err
			}

			argv := cmd.Args().Slice()
			tmpl := newTemplate(env, cmd, store)

			return tmpl.Execute(ctx, resource, func(ctx context.Context) error {
				slog.Info("Running command", "resource", resource, "command", argv[0])

				child := exec.CommandContext(ctx, argv[0], argv[1:]...)
				child.Stdin = os.Stdin
				child.Stdout = cmd.Root().Writer
				child.Stderr = cmd.Root().ErrWriter
				if child.Stderr == nil {
					child.Stderr = os.Stderr
				}

				if err := child.Run(); err != nil {
					var exitErr *exec.ExitError
					if errors.As(err, &exitErr) {
						return errors.Errorf("%s exited with status %d", argv[0], exitErr.ExitCode())
					}

					return errors.Wrapf(err, "failed to run %s", argv[0])
				}

				return nil
			})
		},
	}
}
