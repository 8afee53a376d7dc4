package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/config"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"github.com/urfave/cli/v3"
)

// initCmd creates the init command for setting up a schemalock project.
//
// Init is idempotent. It writes a starter schemalock.yaml when the project has none, creates
// the migrations directory and, when a database URL is available, creates the lock table.
//
// Example usage:
//
//	# Scaffold the project only
//	schemalock init
//
//	# Scaffold and create the lock table
//	DATABASE_URL=postgres://localhost:5432/app schemalock init
//	schemalock --url postgres://localhost:5432/app init
func initCmd(env *Env) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a project and create the lock table",
		Description: `Write a starter schemalock.yaml (if missing), create the migrations directory
and create the lock table in the configured database.

Running init again is safe: existing files are left alone and the lock table is only
created when it does not exist.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer

			if env.Config == nil {
				if err := writeStarterConfig(consts.ConfigFile); err != nil {
					return err
				}
				fmt.Fprintf(w, "Created %s\n", consts.ConfigFile)

				cfg, err := config.LoadConfigFile(consts.ConfigFile)
				if err != nil {
					return err
				}
				env.Config = cfg
			}

			if err := os.MkdirAll(env.Config.Migrations.Dir, consts.ModeDir); err != nil {
				return errors.Wrapf(err, "failed to create migrations directory %s", env.Config.Migrations.Dir)
			}

			if env.Config.Lock.Backend == "database" && env.Config.Database.URL == "" && cmd.String("url") == "" {
				fmt.Fprintln(w, "No database URL configured, skipping lock table creation.")
				return nil
			}

			store, err := openLockStore(ctx, cmd, env.Config, nil)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Init(ctx); err != nil {
				return err
			}

			if env.Config.Lock.Backend == "database" {
				fmt.Fprintf(w, "Lock table %s is ready\n", env.Config.Lock.Table)
			} else {
				fmt.Fprintf(w, "Redis at %s is reachable\n", env.Config.Lock.Redis.Addr)
			}

			return nil
		},
	}
}

func writeStarterConfig(path string) error {
	cfg := config.Default()
	cfg.Database.URL = "${DATABASE_URL}"

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, consts.ModeFile)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() { _ = f.Close() }()

	_, err = cfg.WriteTo(f)
	return err
}
