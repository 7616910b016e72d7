// Package testutil provides shared test helpers for stylesheet fixtures.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Epoch is a fixed reference time for modification-time fixtures.
var Epoch = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// Context returns a context cancelled when the test completes.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// WriteFile writes content to dir/name, creating parent directories, and
// returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "failed to create parent of %s", path)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to write %s", path)
	return path
}

// Touch sets both access and modification time of path to Epoch+offset.
func Touch(t *testing.T, path string, offset time.Duration) time.Time {
	t.Helper()
	stamp := Epoch.Add(offset)
	require.NoError(t, os.Chtimes(path, stamp, stamp), "failed to set times on %s", path)
	return stamp
}

// Chdir changes to dir for the duration of the test.
func Chdir(t *testing.T, dir string) {
	t.Helper()
	original, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	require.NoError(t, os.Chdir(dir), "failed to change directory")

	t.Cleanup(func() {
		err := os.Chdir(original)
		assert.NoError(t, err, "failed to restore working directory")
	})
}

// ReadFile returns the content of path.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read file: %s", path)
	return string(content)
}

// AssertFileNotExists checks if a file does not exist
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "file should not exist: %s", path)
}

// AssertFileContent checks if a file has the expected content
func AssertFileContent(t *testing.T, path, expectedContent string) {
	t.Helper()
	assert.Equal(t, expectedContent, ReadFile(t, path), "file content mismatch")
}

// AssertNoTempFiles fails when dir still holds temporary write files.
func AssertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files left behind in %s", dir)
}
