package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLifecycle(t *testing.T) {
	f := New()
	dir := t.TempDir()
	name := filepath.Join(dir, "nested", "info.json")

	require.NoError(t, f.MkdirAll(filepath.Dir(name)))

	exists, err := f.FileExists(name)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, f.WriteFile(name, `{"ok":true}`))

	exists, err = f.FileExists(name)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := f.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	require.NoError(t, f.Remove(name))
}

func TestFileExistsOnDirectory(t *testing.T) {
	f := New()
	exists, err := f.FileExists(t.TempDir())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserDirs(t *testing.T) {
	f := New()
	home, err := f.UserHomeDir()
	require.NoError(t, err)
	assert.NotEmpty(t, home)
}
