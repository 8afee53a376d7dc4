package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/urfave/cli/v3"
)

// status creates the status command for listing lock rows.
//
// Each row of the lock table is printed with its state, the time of its last state change
// and its age. Held locks older than lock.stale_after are marked stale: the next caller
// will take them over.
//
// Example usage:
//
//	schemalock status
//	schemalock --dir /path/to/project status
func status(env *Env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the state of every lock",
		Description: `List the rows of the lock table.

A lock marked (stale) is held but has not changed for longer than lock.stale_after.
The holder most likely crashed, and the next process to request the lock will reclaim it.`,
		Before: requireConfig(env),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openLockStore(ctx, cmd, env.Config, nil)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return err
			}

			rows, err := store.List(ctx)
			if err != nil {
				return err
			}

			return writeStatus(cmd.Root().Writer, rows, env.Now(), env.Config.Lock.StaleAfter)
		},
	}
}

func writeStatus(w io.Writer, rows []lock.Row, now time.Time, staleAfter time.Duration) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No locks found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tSTATE\tLAST UPDATED\tAGE")

	for i := range rows {
		row := &rows[i]

		state := "unlocked"
		if row.Locked {
			state = "locked"
			if row.IsStale(now, staleAfter) {
				state = "locked (stale)"
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			row.ResourceName,
			state,
			row.LastUpdated.UTC().Format(time.RFC3339),
			formatAge(row.Age(now)),
		)
	}

	return tw.Flush()
}
