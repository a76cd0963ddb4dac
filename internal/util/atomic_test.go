package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"sessions":[]}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"sessions":[]}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestAtomicWriteFile_ReplacesWholeDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0o644))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No staging leftovers next to the target.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tasks.json", entries[0].Name())
}

func TestAtomicWriteFile_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".sesh", "workspaces-meta", "index.json")

	require.NoError(t, AtomicWriteFile(path, []byte("{}"), 0o600))
	assert.FileExists(t, path)
}
