package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireFileExists asserts that a file exists and optionally checks its content
func RequireFileExists(t *testing.T, path string, checks ...func(content string)) {
	t.Helper()

	require.FileExists(t, path, "File should exist: %s", path)

	if len(checks) > 0 {
		content, err := os.ReadFile(path)
		require.NoError(t, err, "Failed to read file: %s", path)

		contentStr := string(content)
		for _, check := range checks {
			check(contentStr)
		}
	}
}

// RequireFileContains returns a check function that verifies file contains text
func RequireFileContains(t *testing.T, expected string) func(string) {
	return func(content string) {
		require.Contains(t, content, expected, "File should contain: %s", expected)
	}
}

// RequireFileNotContains returns a check function that verifies file doesn't contain text
func RequireFileNotContains(t *testing.T, unexpected string) func(string) {
	return func(content string) {
		require.NotContains(t, content, unexpected, "File should not contain: %s", unexpected)
	}
}

// RequireNoFile asserts that a file does not exist
func RequireNoFile(t *testing.T, path string) {
	t.Helper()
	require.NoFileExists(t, path, "File should not exist: %s", path)
}

// RequireError asserts that err is non-nil and its message contains every fragment
func RequireError(t *testing.T, err error, msgContains ...string) {
	t.Helper()

	require.Error(t, err)
	for _, msg := range msgContains {
		require.Contains(t, err.Error(), msg)
	}
}
