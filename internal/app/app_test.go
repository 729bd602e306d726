package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litedb/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Env = "dev"
	cfg.DB.Path = filepath.Join(dir, "app.db")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Log.File = ""
	cfg.Log.ConsoleLevel = "error"

	migrations := filepath.Join(dir, "migrations")
	require.NoError(t, os.MkdirAll(migrations, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(migrations, "001_galaxy.up.sql"),
		[]byte("CREATE TABLE galaxy (name TEXT PRIMARY KEY, size INTEGER NOT NULL);"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(migrations, "001_galaxy.down.sql"),
		[]byte("DROP TABLE galaxy;"), 0644))
	cfg.DB.Migrations = "file://" + migrations
	return cfg
}

func TestOpenDB_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithConfig(testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	db, err := a.OpenDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	tables, err := db.ListTables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"schema_migrations", "galaxy"}, tables)

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "litedb_statements_total")
}

func TestOpenDB_MissingReadOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.AccessMode = "ro"

	a, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.OpenDB(context.Background())
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.VacuumCron = "@daily"

	a, err := NewWithConfig(cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.DB.Path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}
