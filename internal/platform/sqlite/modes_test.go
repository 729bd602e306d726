package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockingMode_Exclusive(t *testing.T) {
	ctx := context.Background()
	tdb := newGalaxyDB(t)
	tdb.Exec(t, "INSERT INTO galaxy VALUES (?, ?)", "Milky Way", 100)

	opts := DefaultOptions()
	opts.BusyTimeout = 0
	other, err := Open(ctx, tdb.Path, opts)
	require.NoError(t, err)
	defer other.Close()

	mode, err := tdb.DB.LockingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, LockingNormal, mode)

	require.NoError(t, tdb.DB.SetLockingMode(ctx, LockingExclusive))
	mode, err = tdb.DB.LockingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, LockingExclusive, mode)

	// Второе соединение не может даже читать
	_, err = other.Execute(ctx, "SELECT * FROM galaxy")
	require.Error(t, err)
	assert.True(t, IsBusy(err))

	// Владелец режима продолжает работать
	assert.Equal(t, int64(1), tdb.CountRows(t, "galaxy"))
}

func TestLockingMode_Invalid(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	err := tdb.DB.SetLockingMode(context.Background(), "SHARED")
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestSyncMode(t *testing.T) {
	ctx := context.Background()
	tdb := NewTestDBFile(t)

	for _, mode := range []SyncMode{SyncOff, SyncNormal, SyncFull, SyncExtra} {
		require.NoError(t, tdb.DB.SetSyncMode(ctx, mode))
		got, err := tdb.DB.SyncMode(ctx)
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}

	require.ErrorIs(t, tdb.DB.SetSyncMode(ctx, "ALWAYS"), ErrInvalidOption)
}

func TestJournalMode(t *testing.T) {
	ctx := context.Background()
	tdb := NewTestDBFile(t)

	mode, err := tdb.DB.JournalMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, JournalDelete, mode)

	mode, err = tdb.DB.SetJournalMode(ctx, JournalWAL)
	require.NoError(t, err)
	assert.Equal(t, JournalWAL, mode)

	mode, err = tdb.DB.JournalMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, JournalWAL, mode)

	_, err = tdb.DB.SetJournalMode(ctx, "FAST")
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestJournalMode_InMemoryIgnoresWAL(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	mode, err := tdb.DB.SetJournalMode(context.Background(), JournalWAL)
	require.NoError(t, err)
	assert.Equal(t, JournalMemory, mode)
}

func TestParseModes(t *testing.T) {
	lm, err := ParseLockingMode("exclusive")
	require.NoError(t, err)
	assert.Equal(t, LockingExclusive, lm)
	_, err = ParseLockingMode("shared")
	assert.ErrorIs(t, err, ErrInvalidOption)

	sm, err := ParseSyncMode(" full ")
	require.NoError(t, err)
	assert.Equal(t, SyncFull, sm)
	_, err = ParseSyncMode("2")
	assert.ErrorIs(t, err, ErrInvalidOption)

	jm, err := ParseJournalMode("wal")
	require.NoError(t, err)
	assert.Equal(t, JournalWAL, jm)
	_, err = ParseJournalMode("fast")
	assert.ErrorIs(t, err, ErrInvalidOption)
}
