package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations_SortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010_later.sql", "002_second.sql", "001_initial.sql", "README.md", "abc_bad.sql", "000_zero.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755))

	got, err := pendingMigrations(dir)
	require.NoError(t, err)

	var names []string
	for _, m := range got {
		names = append(names, m.name)
	}
	assert.Equal(t, []string{"001_initial.sql", "002_second.sql", "010_later.sql"}, names)
	assert.Equal(t, 10, got[2].version)
}

func TestPendingMigrations_MissingDir(t *testing.T) {
	_, err := pendingMigrations(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
