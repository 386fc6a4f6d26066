package db

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	latest, err := LatestMigrationVersion()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "All migrations applied")
	assert.Contains(t, out.String(), "Latest version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "2"}, path, &out))
	assert.Contains(t, out.String(), "Migrated to version 2")

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()
	version, dirty, err := d.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)
}

func TestRunMigrateCommand_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	var out bytes.Buffer

	assert.ErrorIs(t, RunMigrateCommand(nil, path, &out), ErrUnknownMigrateAction)
	assert.Contains(t, out.String(), "Usage:")

	assert.ErrorIs(t, RunMigrateCommand([]string{"sideways"}, path, &out), ErrUnknownMigrateAction)
	assert.Error(t, RunMigrateCommand([]string{"version"}, path, &out))
	assert.ErrorContains(t, RunMigrateCommand([]string{"version", "two"}, path, &out), "invalid version number")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "migrate <command>")
}
