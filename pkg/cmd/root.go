package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type (
	Params struct {
		fx.In

		Args       []string
		Commands   []*cli.Command `group:"commands"`
		Ctx        context.Context
		Env        *Env
		Lifecycle  fx.Lifecycle
		Shutdowner fx.Shutdowner
		Version    *Version
	}

	Version struct {
		Version   string
		Commit    string
		Timestamp string
	}

	// Env is the state shared by the root command and its subcommands.
	//
	// Config is nil until a schemalock.yaml has been found in the project directory.
	Env struct {
		Config *config.Config
		Now    func() time.Time

		metrics *metricsServer
	}
)

// NewEnv creates the command environment for cfg, which may be nil.
func NewEnv(cfg *config.Config) *Env {
	return &Env{
		Config: cfg,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run creates and executes the main schemalock CLI application with the given
// version and command-line arguments.
//
// Global Flags:
//   - --dir, -d: Project directory (defaults to current directory)
//   - --url: Database URL, overriding database.url from schemalock.yaml
//   - --timeout: Maximum time to wait for a lock (0 waits forever)
//
// The configuration is (re)loaded after changing into the project directory. When
// metrics.addr is configured, /metrics is served until the command finishes.
//
// Example usage:
//
//	schemalock --dir /path/to/project status
//	schemalock --timeout 5m migrate
//	schemalock run --resource nightly-backfill -- ./backfill.sh
func Run(p Params) {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", p.Version.Version)
		fmt.Fprintln(cmd.Writer, "Commit:", p.Version.Commit)
		fmt.Fprintln(cmd.Writer, "Date:", p.Version.Timestamp)
	}

	app := NewApp(p.Env, p.Version, p.Commands)

	p.Lifecycle.Append(fx.StartHook(func() {
		if err := app.Run(p.Ctx, p.Args); err != nil {
			slog.Error("Error running command", "err", err)
			_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
			return
		}

		_ = p.Shutdowner.Shutdown(fx.ExitCode(0))
	}))
}

// NewApp returns the root schemalock command with the given subcommands.
func NewApp(env *Env, version *Version, commands []*cli.Command) *cli.Command {
	return &cli.Command{
		Name:  "schemalock",
		Usage: "Serialize schema migrations and other critical sections with a database lock table",
		Description: `schemalock makes sure only one process at a time runs a critical section, such as
applying schema migrations, against a shared database. Locks are rows in a lock table,
so they work across hosts and survive crashed holders: a lock held for longer than the
staleness threshold is taken over by the next caller.`,
		Version: version.Version,
		Flags:   globalFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if err := env.enterProject(cmd.String("dir")); err != nil {
				return ctx, err
			}

			return ctx, env.startMetrics()
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			return env.stopMetrics(ctx)
		},
		Commands: commands,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "dir",
			Aliases:     []string{"d"},
			Usage:       "the project directory",
			Value:       ".",
			DefaultText: "Current directory",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:    "url",
			Usage:   "database URL (overrides database.url)",
			Sources: cli.EnvVars("SCHEMALOCK_DATABASE_URL"),
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "maximum time to wait for a lock, 0 waits forever",
			Value: 0,
		},
	}
}

// enterProject changes into dir and reloads the configuration from there.
func (e *Env) enterProject(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}

	if err := os.Chdir(dir); err != nil {
		return errors.Wrapf(err, "failed to change to project directory %s", dir)
	}

	cfg, err := config.Find()
	if err != nil {
		return err
	}

	e.Config = cfg
	return nil
}

func requireConfig(env *Env) func(context.Context, *cli.Command) (context.Context, error) {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if env.Config == nil {
			return ctx, errors.New("schemalock.yaml not found, run 'schemalock init' first")
		}

		return ctx, nil
	}
}
