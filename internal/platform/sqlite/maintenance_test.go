package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litedb/internal/shared"
	"litedb/pkg/retry"
)

func TestBackup(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)
	seedGalaxy(t, tdb)
	dst := filepath.Join(t.TempDir(), "nested", "backup.db")

	require.NoError(t, tdb.DB.Backup(ctx, dst))

	// Повторный бэкап перезаписывает файл
	tdb.Exec(t, "INSERT INTO galaxy VALUES (?, ?)", "Triangulum", 60)
	require.NoError(t, tdb.DB.Backup(ctx, dst))

	backup, err := NewReadOnlyDB(ctx, dst)
	require.NoError(t, err)
	defer backup.Close()

	cur, err := backup.Execute(ctx, "SELECT COUNT(*) FROM galaxy")
	require.NoError(t, err)
	row, err := cur.FetchOne()
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	assert.Equal(t, int64(3), row[0])

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be removed")
}

func TestBackup_InMemory(t *testing.T) {
	ctx := context.Background()
	tdb := NewTestDBInMemory(t, WithInitScript(galaxyScript))
	dst := filepath.Join(t.TempDir(), "mem.db")

	require.NoError(t, tdb.DB.Backup(ctx, dst))

	backup, err := NewDB(ctx, dst)
	require.NoError(t, err)
	defer backup.Close()
	ok, err := tdb.DB.Match(ctx, backup)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackup_ClosedDB(t *testing.T) {
	db, err := NewInMemoryDB(context.Background())
	require.NoError(t, err)
	_, err = db.Close()
	require.NoError(t, err)

	err = db.Backup(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestVacuumAndOptimize(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)
	seedGalaxy(t, tdb)

	require.NoError(t, tdb.DB.Vacuum(ctx))
	require.NoError(t, tdb.DB.Optimize(ctx))

	dst := filepath.Join(t.TempDir(), "vacuumed.db")
	require.NoError(t, tdb.DB.VacuumInto(ctx, dst))
	_, err := os.Stat(dst)
	require.NoError(t, err)

	// VACUUM INTO не перезаписывает существующий файл
	assert.Error(t, tdb.DB.VacuumInto(ctx, dst))
}

func TestTotalChanges(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)

	before, err := tdb.DB.TotalChanges(ctx)
	require.NoError(t, err)

	seedGalaxy(t, tdb)

	after, err := tdb.DB.TotalChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), after-before)
}

func TestSerializeDeserialize(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)
	seedGalaxy(t, tdb)

	image, err := tdb.DB.Serialize(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, image)

	target := NewTestDBFile(t)
	lock := target.DB.WriteLock()
	require.NoError(t, target.DB.Deserialize(ctx, image))

	assert.True(t, target.DB.InMemory())
	assert.Equal(t, MemoryPath, target.DB.Path())
	assert.Same(t, lock, target.DB.WriteLock())

	tables, err := target.DB.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"galaxy", "planet"}, tables)
	assert.Equal(t, int64(2), target.CountRows(t, "galaxy"))

	// Изменения в копии не трогают исходную базу
	target.Exec(t, "DELETE FROM planet")
	assert.Equal(t, int64(2), tdb.CountRows(t, "planet"))
}

func TestDeserialize_Errors(t *testing.T) {
	ctx := context.Background()
	tdb := NewTestDBInMemory(t)

	err := tdb.DB.Deserialize(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidOption)
	assert.Equal(t, MemoryPath, tdb.DB.Path())

	_, err = tdb.DB.Close()
	require.NoError(t, err)
	_, err = tdb.DB.Serialize(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func fastRetry(attempts int) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.After = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return cfg
}

func TestRetryBusy(t *testing.T) {
	ctx := context.Background()
	busy := fmt.Errorf("write: %w", shared.ErrBusy)

	t.Run("succeeds after busy", func(t *testing.T) {
		calls := 0
		err := RetryBusy(ctx, fastRetry(5), func(context.Context) error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := RetryBusy(ctx, fastRetry(5), func(context.Context) error {
			calls++
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := RetryBusy(ctx, fastRetry(2), func(context.Context) error {
			calls++
			return busy
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.True(t, shared.IsBusy(err))

		var exceeded *retry.RetriesExceededError
		require.True(t, errors.As(err, &exceeded))
		assert.Equal(t, 2, exceeded.Attempts)
	})
}

func TestRetryBusy_EngineBusy(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)

	other, err := Open(ctx, tdb.Path, func() Options {
		o := DefaultOptions()
		o.BusyTimeout = 0
		return o
	}())
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, tdb.DB.SetLockingMode(ctx, LockingExclusive))

	calls := 0
	err = RetryBusy(ctx, fastRetry(3), func(ctx context.Context) error {
		calls++
		cur, err := other.Execute(ctx, "SELECT * FROM galaxy")
		if err != nil {
			return err
		}
		return cur.Close()
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsBusy(err))
	assert.Equal(t, shared.KindBusy, shared.KindOf(err))
}
