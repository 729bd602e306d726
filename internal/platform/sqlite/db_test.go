package sqlite

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litedb/internal/shared"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, AccessModeReadWriteCreate, opts.AccessMode)
	assert.Equal(t, 5*time.Second, opts.BusyTimeout)
	assert.True(t, opts.ForeignKeys)
	assert.Equal(t, TxLockDeferred, opts.TxLockMode)
	assert.Equal(t, DefaultArraySize, opts.ArraySize)
	assert.Empty(t, opts.JournalMode)
	assert.Empty(t, opts.SyncMode)
}

func TestOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr error
	}{
		{name: "defaults", modify: func(*Options) {}},
		{name: "empty access mode", modify: func(o *Options) { o.AccessMode = "" }},
		{name: "tx mode none", modify: func(o *Options) { o.TxLockMode = TxLockNone }},
		{name: "bad access mode", modify: func(o *Options) { o.AccessMode = "rwx" }, wantErr: ErrInvalidOption},
		{name: "bad tx mode", modify: func(o *Options) { o.TxLockMode = "LAZY" }, wantErr: ErrInvalidTxMode},
		{name: "bad journal mode", modify: func(o *Options) { o.JournalMode = "FAST" }, wantErr: ErrInvalidOption},
		{name: "bad sync mode", modify: func(o *Options) { o.SyncMode = "SOMETIMES" }, wantErr: ErrInvalidOption},
		{name: "negative busy timeout", modify: func(o *Options) { o.BusyTimeout = -time.Second }, wantErr: ErrInvalidOption},
		{name: "negative array size", modify: func(o *Options) { o.ArraySize = -1 }, wantErr: ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)

			normalized, err := opts.normalize()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, shared.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, normalized.Logger)
			assert.NotNil(t, normalized.Observer)
			assert.Positive(t, normalized.ArraySize)
		})
	}
}

func TestNewInMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.True(t, db.IsNew())
	assert.Equal(t, MemoryPath, db.Path())
	assert.False(t, db.InTransaction())

	cur, err := db.Execute(ctx, "SELECT 1")
	require.NoError(t, err)
	row, err := cur.FetchOne()
	require.NoError(t, err)
	assert.Equal(t, Row{int64(1)}, row)
	require.NoError(t, cur.Close())
}

func TestOpen_EmptyPathIsInMemory(t *testing.T) {
	db, err := Open(context.Background(), "", DefaultOptions())
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Equal(t, MemoryPath, db.Path())
}

func TestNewDB_CreateDirectory(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	db, err := NewDB(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	// Каталоги и файл созданы
	_, err = os.Stat(dbPath)
	require.NoError(t, err)
	assert.True(t, db.IsNew())
	assert.False(t, db.InMemory())
	assert.True(t, filepath.IsAbs(db.Path()))
}

func TestOpen_InitScriptOnlyOnCreate(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)

	tables, err := tdb.DB.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"galaxy", "planet"}, tables)

	// Повторное открытие существующего файла не выполняет скрипт
	opts := DefaultOptions()
	opts.InitScript = "CREATE TABLE other (x INTEGER);"
	again, err := Open(ctx, tdb.Path, opts)
	require.NoError(t, err)
	defer again.Close()

	assert.False(t, again.IsNew())
	tables, err = again.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"galaxy", "planet"}, tables)
}

func TestOpen_InitScriptFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.InitScript = "CREATE TABLE broken (;"

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "broken.db"), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init script")
}

func TestOpen_InitScriptAlwaysTransactional(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "init.db")

	var queries []string
	opts := DefaultOptions()
	opts.TxLockMode = TxLockNone
	opts.Trace = func(q string) { queries = append(queries, q) }
	opts.InitScript = "CREATE TABLE star (name TEXT); INSERT INTO star VALUES ('Sun');"

	db, err := Open(ctx, path, opts)
	require.NoError(t, err)
	assert.Contains(t, queries, "BEGIN DEFERRED")
	assert.Contains(t, queries, "COMMIT")
	_, err = db.Close()
	require.NoError(t, err)

	// Неудачный скрипт не оставляет частично созданную схему
	broken := filepath.Join(t.TempDir(), "broken.db")
	opts.Trace = nil
	opts.InitScript = "CREATE TABLE star (name TEXT); INSERT INTO missing VALUES (1);"
	_, err = Open(ctx, broken, opts)
	require.Error(t, err)

	reopened, err := NewDB(ctx, broken)
	require.NoError(t, err)
	defer reopened.Close()
	tables, err := reopened.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestOpen_Hooks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hooks.db")

	var created, connected int
	opts := DefaultOptions()
	opts.OnCreate = func(ctx context.Context, db *DB) error {
		created++
		cur, err := db.Execute(ctx, "CREATE TABLE hook (id INTEGER)")
		if err != nil {
			return err
		}
		return cur.Close()
	}
	opts.OnConnect = func(context.Context, *DB) error {
		connected++
		return nil
	}

	db, err := Open(ctx, path, opts)
	require.NoError(t, err)
	_, err = db.Close()
	require.NoError(t, err)

	db, err = Open(ctx, path, opts)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, created)
	assert.Equal(t, 2, connected)
	tables, err := db.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hook"}, tables)
}

func TestOpen_HookErrorClosesEngine(t *testing.T) {
	opts := DefaultOptions()
	opts.OnConnect = func(context.Context, *DB) error { return assert.AnError }

	path := filepath.Join(t.TempDir(), "hook.db")
	_, err := Open(context.Background(), path, opts)
	require.ErrorIs(t, err, assert.AnError)

	// Ссылка в реестре освобождена
	registry.mu.Lock()
	_, ok := registry.entries[lockKey(path)]
	registry.mu.Unlock()
	assert.False(t, ok)
}

func TestOpen_MissingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := NewDBWithMode(ctx, path, AccessModeReadWrite)
	require.ErrorIs(t, err, ErrMissingDatabase)

	_, err = NewReadOnlyDB(ctx, path)
	require.ErrorIs(t, err, ErrMissingDatabase)
	assert.True(t, shared.IsValidation(err))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file must not be created")
}

func TestPragmaSettings(t *testing.T) {
	tdb := NewTestDBFile(t)

	rows := tdb.Query(t, "PRAGMA foreign_keys")
	assert.Equal(t, int64(1), rows[0][0])

	rows = tdb.Query(t, "PRAGMA busy_timeout")
	assert.Equal(t, int64(5000), rows[0][0])
}

func TestPragmaSettings_JournalAndSync(t *testing.T) {
	tdb := NewTestDBFile(t, func(o *Options) {
		o.JournalMode = JournalWAL
		o.SyncMode = SyncNormal
		o.ForeignKeys = false
	})

	rows := tdb.Query(t, "PRAGMA journal_mode")
	assert.Equal(t, "wal", rows[0][0])
	rows = tdb.Query(t, "PRAGMA synchronous")
	assert.Equal(t, int64(1), rows[0][0])
	rows = tdb.Query(t, "PRAGMA foreign_keys")
	assert.Equal(t, int64(0), rows[0][0])
}

func TestNewReadOnlyDB(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)
	tdb.Exec(t, "INSERT INTO galaxy VALUES (?, ?)", "Milky Way", 100)

	ro, err := NewReadOnlyDB(ctx, tdb.Path)
	require.NoError(t, err)
	defer ro.Close()

	assert.True(t, ro.ReadOnly())
	assert.False(t, ro.IsNew())

	cur, err := ro.Execute(ctx, "SELECT name FROM galaxy")
	require.NoError(t, err)
	rows, err := cur.FetchAll()
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	assert.Equal(t, []Row{{"Milky Way"}}, rows)

	_, err = ro.Execute(ctx, "INSERT INTO galaxy VALUES (?, ?)", "Andromeda", 200)
	assert.Error(t, err)
}

func TestOpen_URIReadOnly(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)

	db, err := Open(ctx, "file:"+tdb.Path+"?mode=ro", DefaultOptions())
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.ReadOnly())
	assert.Same(t, tdb.DB.WriteLock(), db.WriteLock())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)

	cur, err := db.Cursor(ctx)
	require.NoError(t, err)

	closed, err := db.Close()
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, db.IsClosed())
	assert.False(t, db.IsDestroyed())

	closed, err = db.Close()
	require.NoError(t, err)
	assert.False(t, closed)

	_, err = db.Cursor(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Execute(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = cur.Execute(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, shared.IsMisuse(err))
	assert.False(t, db.InTransaction())
	assert.NoError(t, cur.Close())
}

func TestClose_ReleasesRegistryEntry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ref.db")

	db, err := NewDB(ctx, path)
	require.NoError(t, err)
	clone, err := db.Copy(ctx)
	require.NoError(t, err)

	key := lockKey(db.Path())
	registry.mu.Lock()
	refs := registry.entries[key].refs
	registry.mu.Unlock()
	assert.Equal(t, 2, refs)

	_, err = db.Close()
	require.NoError(t, err)
	_, err = clone.Close()
	require.NoError(t, err)

	registry.mu.Lock()
	_, ok := registry.entries[key]
	registry.mu.Unlock()
	assert.False(t, ok)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "destroy.db")
	db, err := NewDB(ctx, path)
	require.NoError(t, err)
	_, err = db.SetJournalMode(ctx, JournalWAL)
	require.NoError(t, err)

	destroyed, err := db.Destroy()
	require.NoError(t, err)
	assert.True(t, destroyed)
	assert.True(t, db.IsDestroyed())
	assert.True(t, db.IsClosed())

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_, err = os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}

	destroyed, err = db.Destroy()
	require.NoError(t, err)
	assert.False(t, destroyed)

	closed, err := db.Close()
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestDestroy_InMemory(t *testing.T) {
	db, err := NewInMemoryDB(context.Background())
	require.NoError(t, err)

	destroyed, err := db.Destroy()
	require.NoError(t, err)
	assert.True(t, destroyed)

	destroyed, err = db.Destroy()
	require.NoError(t, err)
	assert.False(t, destroyed)
}

func TestDestroy_FileRemovedExternally(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gone.db")
	db, err := NewDB(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(db.Path()))

	_, err = db.Destroy()
	require.ErrorIs(t, err, ErrNotRegularFile)
	assert.True(t, shared.IsIntegrity(err))
	assert.True(t, db.IsClosed())
	assert.False(t, db.IsDestroyed())
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)
	tdb.Exec(t, "INSERT INTO galaxy VALUES (?, ?)", "Milky Way", 100)

	clone, err := tdb.DB.Copy(ctx)
	require.NoError(t, err)
	defer clone.Close()

	assert.Equal(t, tdb.DB.Path(), clone.Path())
	assert.False(t, clone.IsNew())
	assert.Same(t, tdb.DB.WriteLock(), clone.WriteLock())

	cur, err := clone.Execute(ctx, "SELECT COUNT(*) FROM galaxy")
	require.NoError(t, err)
	row, err := cur.FetchOne()
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	assert.Equal(t, int64(1), row[0])
}

func TestCopy_InMemoryIsIndependent(t *testing.T) {
	ctx := context.Background()
	tdb := NewTestDBInMemory(t, WithInitScript(galaxyScript))

	clone, err := tdb.DB.Copy(ctx)
	require.NoError(t, err)
	defer clone.Close()

	assert.NotSame(t, tdb.DB.WriteLock(), clone.WriteLock())
	// Копия получает тот же скрипт инициализации, но это новая база
	tdb.Exec(t, "INSERT INTO galaxy VALUES (?, ?)", "Milky Way", 100)
	cur, err := clone.Execute(ctx, "SELECT COUNT(*) FROM galaxy")
	require.NoError(t, err)
	row, err := cur.FetchOne()
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	assert.Equal(t, int64(0), row[0])
}

func TestSharedLock_ThroughSymlink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	realDir := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(realDir, 0755))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	a, err := NewDB(ctx, filepath.Join(realDir, "x.db"))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewDB(ctx, filepath.Join(link, "x.db"))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, a.Path(), b.Path())
	assert.Same(t, a.WriteLock(), b.WriteLock())
}

func TestTraceOption(t *testing.T) {
	var queries []string
	tdb := NewTestDBInMemory(t, func(o *Options) {
		o.Trace = func(q string) { queries = append(queries, q) }
	})

	require.NotEmpty(t, queries)
	assert.Equal(t, "PRAGMA busy_timeout = 5000", queries[0])
	assert.Contains(t, queries, "PRAGMA foreign_keys = ON")

	queries = nil
	tdb.DB.SetTrace(nil)
	tdb.Exec(t, "CREATE TABLE t (x)")
	assert.Empty(t, queries)
}

func TestLogStatements(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tdb := NewTestDBInMemory(t, func(o *Options) {
		o.Logger = logger
		o.LogStatements = true
	})
	tdb.Exec(t, "CREATE TABLE logged (x)")

	assert.Contains(t, buf.String(), "sql statement")
	assert.Contains(t, buf.String(), "CREATE TABLE logged (x)")
	assert.Contains(t, buf.String(), "component=sqlite")
}

func TestPathHelpers(t *testing.T) {
	t.Run("isMemoryPath", func(t *testing.T) {
		assert.True(t, isMemoryPath(":memory:"))
		assert.True(t, isMemoryPath("file::memory:?cache=shared"))
		assert.True(t, isMemoryPath("file:mem.db?mode=memory"))
		assert.False(t, isMemoryPath("/tmp/x.db"))
		assert.False(t, isMemoryPath("file:/tmp/x.db?mode=ro"))
	})

	t.Run("filePathOf", func(t *testing.T) {
		assert.Equal(t, "/tmp/a.db", filePathOf("/tmp/a.db"))
		assert.Equal(t, "/tmp/a.db", filePathOf("file:/tmp/a.db?mode=ro"))
		assert.Equal(t, "/tmp/a b.db", filePathOf("file:///tmp/a%20b.db"))
		assert.Equal(t, "/tmp/a.db", filePathOf("file://localhost/tmp/a.db"))
	})

	t.Run("uriReadOnly", func(t *testing.T) {
		assert.True(t, uriReadOnly("file:/tmp/a.db?mode=ro"))
		assert.False(t, uriReadOnly("file:/tmp/a.db?mode=rw"))
		assert.False(t, uriReadOnly("/tmp/a.db"))
	})

	t.Run("normalizePath", func(t *testing.T) {
		p, err := normalizePath("")
		require.NoError(t, err)
		assert.Equal(t, MemoryPath, p)

		p, err = normalizePath("file:x.db?mode=ro")
		require.NoError(t, err)
		assert.Equal(t, "file:x.db?mode=ro", p)

		p, err = normalizePath("relative.db")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(p))
	})
}
