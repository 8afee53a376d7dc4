package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/urfave/cli/v3"
)

// unlock creates the unlock command, which clears a lock regardless of who holds it.
//
// Example usage:
//
//	schemalock unlock schemalock_history
func unlock(env *Env) *cli.Command {
	return &cli.Command{
		Name:      "unlock",
		Usage:     "Force-release a lock",
		ArgsUsage: "RESOURCE",
		Description: `Mark RESOURCE as unlocked without running anything.

Use this only when the holder is known to be gone. If it is still running, a second
process can enter the critical section alongside it.`,
		Before: requireConfig(env),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return errors.New("unlock requires exactly one RESOURCE argument")
			}
			resource := cmd.Args().First()

			store, err := openLockStore(ctx, cmd, env.Config, nil)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return err
			}

			released, err := newTemplate(env, cmd, store).ForceRelease(ctx, resource)
			if errors.Is(err, lock.ErrInconsistentLockState) {
				return errors.Errorf("no lock found for %q", resource)
			}
			if err != nil {
				return err
			}

			if released {
				fmt.Fprintf(cmd.Root().Writer, "Released %s\n", resource)
			} else {
				fmt.Fprintf(cmd.Root().Writer, "%s was not locked\n", resource)
			}

			return nil
		},
	}
}
