package db

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	script, err := fs.ReadFile(migrationFiles, "migrations/00001_init.sql")
	require.NoError(t, err)
	assert.Contains(t, string(script), "-- +goose Up")
	assert.Contains(t, string(script), "direct_key  TEXT UNIQUE")
}

func TestRunMigrations_UsesEmbeddedDir(t *testing.T) {
	orig := upContext
	t.Cleanup(func() { upContext = orig })

	var gotDir string
	upContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, RunMigrations(context.Background(), nil))
	assert.Equal(t, "migrations", gotDir)
}

func TestRunMigrations_WrapsError(t *testing.T) {
	orig := upContext
	t.Cleanup(func() { upContext = orig })

	upContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	err := RunMigrations(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migrations: boom")
}
