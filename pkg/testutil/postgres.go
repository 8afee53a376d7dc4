// Package testutil provides helpers for integration tests that need a real database.
package testutil

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresImage is the image used for PostgreSQL integration tests.
const PostgresImage = "postgres:16-alpine"

// SkipIfNoDocker skips the test if Docker is not available
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("Docker not available")
	}

	cmd := exec.CommandContext(t.Context(), "docker", "ps")
	if err := cmd.Run(); err != nil {
		t.Skip("Docker daemon not running")
	}
}

// SetupPostgres starts a PostgreSQL container for the test and returns its connection URL.
// The container is removed when the test finishes.
//
// Example:
//
//	func TestSomething(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//
//		url := testutil.SetupPostgres(t)
//		store, err := sqlstore.Open(t.Context(), sqlstore.Options{URL: url})
//		require.NoError(t, err)
//	}
func SetupPostgres(t *testing.T) string {
	t.Helper()

	SkipIfNoDocker(t)

	ctr, err := postgres.Run(t.Context(), PostgresImage,
		postgres.WithDatabase("schemalock"),
		postgres.WithUsername("schemalock"),
		postgres.WithPassword("schemalock"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	url, err := ctr.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return url
}
