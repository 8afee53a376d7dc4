package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/pseudomuto/schemalock/pkg/cmd/testutil"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/golden"
)

func TestStatusCommand(t *testing.T) {
	fixture := testutil.TestProject(t)
	seedLocks(t, fixture,
		lock.Row{ResourceName: "gamma", Locked: true, LastUpdated: fixedNow.Add(-5 * time.Minute)},
		lock.Row{ResourceName: "alpha", Locked: false, LastUpdated: fixedNow.Add(-2 * time.Minute)},
		lock.Row{ResourceName: "beta", Locked: true, LastUpdated: fixedNow.Add(-10 * time.Second)},
	)

	// --dir moves the process into the fixture, so resolve the golden file first.
	goldenPath, err := filepath.Abs(filepath.Join("testdata", "status.golden"))
	require.NoError(t, err)

	env := NewEnv(nil)
	env.Now = func() time.Time { return fixedNow }

	result := runApp(t, env, "--dir", fixture.Dir, "status")
	require.NoError(t, result.Err)
	golden.Assert(t, result.Stdout, goldenPath)
}

func TestStatusCommand_NoLocks(t *testing.T) {
	fixture := testutil.TestProject(t)

	result := runApp(t, NewEnv(nil), "--dir", fixture.Dir, "status")
	require.NoError(t, result.Err)
	require.Equal(t, "No locks found.\n", result.Stdout)
}

func TestStatusCommand_URLOverride(t *testing.T) {
	fixture := testutil.TestProject(t)

	// A second database that only the flag points at.
	other := testutil.TestProject(t)
	seedLocks(t, other, lock.Row{ResourceName: "elsewhere", LastUpdated: fixedNow})

	result := runApp(t, NewEnv(nil), "--dir", fixture.Dir, "--url", filepath.Clean(other.GetDatabasePath()), "status")
	require.NoError(t, result.Err)
	require.Contains(t, result.Stdout, "elsewhere")
}

func TestWriteStatus(t *testing.T) {
	tests := []struct {
		name  string
		row   lock.Row
		state string
	}{
		{name: "unlocked", row: lock.Row{ResourceName: "r", LastUpdated: fixedNow.Add(-time.Hour)}, state: "unlocked"},
		{name: "held", row: lock.Row{ResourceName: "r", Locked: true, LastUpdated: fixedNow.Add(-30 * time.Second)}, state: "locked "},
		{name: "stale", row: lock.Row{ResourceName: "r", Locked: true, LastUpdated: fixedNow.Add(-31 * time.Second)}, state: "locked (stale)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeStatus(&buf, []lock.Row{tt.row}, fixedNow, 30*time.Second))
			require.Contains(t, buf.String(), tt.state)
		})
	}
}
