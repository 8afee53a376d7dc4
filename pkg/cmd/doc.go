// Package cmd provides CLI commands for the schemalock tool.
//
// This package implements the command-line interface for schemalock. Every
// command works against a project directory holding a schemalock.yaml, and
// every command that runs something does so inside the locking execution
// template from the lock package.
//
// # Available Commands
//
//   - init: Write a starter schemalock.yaml and create the lock table
//   - status: List every lock with its state, age and staleness
//   - unlock: Force-release a lock left behind by a crashed process
//   - run: Execute an external command while holding a named lock
//   - migrate: Apply pending SQL migrations under the history table's lock
//
// # Command Structure
//
// Each command is implemented as a separate function that takes the shared
// *Env and returns a *cli.Command, following the urfave/cli/v3 pattern.
// Commands are provided to the root command through the fx "commands" group.
//
// # Global Options
//
// All commands support global flags:
//   - --dir, -d: Specify project directory (defaults to current directory)
//   - --url: Override database.url (also read from SCHEMALOCK_DATABASE_URL)
//   - --timeout: Bound the wait for a lock (0 waits until interrupted)
//   - --help, -h: Display command help
//   - --version: Display version information
//
// # Example Usage
//
//	schemalock init                                      # Scaffold a project
//	schemalock --timeout 10m migrate                     # Migrate, waiting at most 10m for the lock
//	schemalock run -r nightly-report -- ./report.sh      # Run a script exclusively
//	schemalock status                                    # Inspect locks
//	schemalock unlock nightly-report                     # Clear a lock after a crash
//
// When metrics.addr is set, Prometheus metrics for the lock are served on
// /metrics for as long as the command runs.
package cmd
