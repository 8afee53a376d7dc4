package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/urfave/cli/v3"
)

// CommandResult holds what a command wrote and the error it returned
type CommandResult struct {
	Stdout string
	Stderr string
	Err    error
}

// RunApp executes the root command with args (excluding the program name), capturing its output
func RunApp(t *testing.T, app *cli.Command, args ...string) *CommandResult {
	t.Helper()
	return RunAppWithContext(context.Background(), t, app, args...)
}

// RunAppWithContext executes the root command with a custom context
func RunAppWithContext(ctx context.Context, t *testing.T, app *cli.Command, args ...string) *CommandResult {
	t.Helper()

	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr

	// Prepend program name to args
	fullArgs := append([]string{app.Name}, args...)
	err := app.Run(ctx, fullArgs)

	return &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}
