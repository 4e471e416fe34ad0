package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.lock")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	m := New(path)
	require.NoError(t, m.Create())
	assert.True(t, m.Exists())

	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))
	require.NoError(t, m.Restore())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestCreateWithoutExistingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "missing.lock"))
	require.NoError(t, m.Create())
	assert.False(t, m.Exists())
}

func TestRestoreWithoutBackupFails(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "agpm.lock"))
	require.Error(t, m.Restore())
}

func TestCleanupRemovesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.lock")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	m := New(path)
	require.NoError(t, m.Create())
	require.NoError(t, m.Cleanup())
	assert.False(t, m.Exists())
}
