package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryOne(t *testing.T, db *DB, query string, args ...any) (any, error) {
	t.Helper()
	cur, err := db.Execute(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	row, err := cur.FetchOne()
	if err != nil || row == nil {
		return nil, err
	}
	return row[0], nil
}

func TestCreateFunction(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	err := tdb.DB.CreateFunction("reverse", 1, true, func(args []any) (any, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, nil
		}
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r), nil
	})
	require.NoError(t, err)

	v, err := queryOne(t, tdb.DB, "SELECT reverse(?)", "galaxy")
	require.NoError(t, err)
	assert.Equal(t, "yxalag", v)

	v, err = queryOne(t, tdb.DB, "SELECT reverse(NULL)")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Неверное число аргументов отклоняется движком
	_, err = queryOne(t, tdb.DB, "SELECT reverse('a', 'b')")
	require.Error(t, err)
}

func TestCreateFunction_ValueTypes(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	var got []any
	require.NoError(t, tdb.DB.CreateFunction("echo", -1, false, func(args []any) (any, error) {
		got = args
		return args[len(args)-1], nil
	}))

	v, err := queryOne(t, tdb.DB, "SELECT echo(1, 2.5, 'x', X'CAFE', NULL, ?)", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []any{int64(1), 2.5, "x", []byte{0xCA, 0xFE}, nil, int64(1)}, got)
}

func TestCreateFunction_Errors(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	require.NoError(t, tdb.DB.CreateFunction("fail", 0, false, func([]any) (any, error) {
		return nil, errors.New("black hole")
	}))
	_, err := queryOne(t, tdb.DB, "SELECT fail()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "black hole")

	require.NoError(t, tdb.DB.CreateFunction("odd", 0, false, func([]any) (any, error) {
		return struct{}{}, nil
	}))
	_, err = queryOne(t, tdb.DB, "SELECT odd()")
	require.Error(t, err)

	require.ErrorIs(t, tdb.DB.CreateFunction("nil", 0, false, nil), ErrInvalidOption)

	_, err = tdb.DB.Close()
	require.NoError(t, err)
	require.ErrorIs(t, tdb.DB.CreateFunction("late", 0, false, func([]any) (any, error) { return nil, nil }), ErrClosed)
}

func TestCreateCollation(t *testing.T) {
	tdb := NewTestDBInMemory(t, WithInitScript(galaxyScript))
	tdb.MustSeedData(t, `
		INSERT INTO galaxy VALUES ('andromeda', 220);
		INSERT INTO galaxy VALUES ('Milky Way', 100);
		INSERT INTO galaxy VALUES ('Triangulum', 60);`)

	require.NoError(t, tdb.DB.CreateCollation("folded", func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	}))

	rows := tdb.Query(t, "SELECT name FROM galaxy ORDER BY name COLLATE folded")
	assert.Equal(t, []Row{{"andromeda"}, {"Milky Way"}, {"Triangulum"}}, rows)

	// Удалённое правило больше не доступно
	require.NoError(t, tdb.DB.CreateCollation("folded", nil))
	_, err := tdb.DB.Execute(context.Background(), "SELECT name FROM galaxy ORDER BY name COLLATE folded")
	require.Error(t, err)
}

func TestInterrupt(t *testing.T) {
	tdb := NewTestDBInMemory(t)

	// Без выполняющейся инструкции ничего не происходит
	tdb.DB.Interrupt()

	done := make(chan error, 1)
	go func() {
		_, err := queryOne(t, tdb.DB,
			"WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c) SELECT max(x) FROM c")
		done <- err
	}()

	deadline := time.After(10 * time.Second)
	var err error
loop:
	for {
		select {
		case err = <-done:
			break loop
		case <-deadline:
			t.Fatal("statement was not interrupted")
		case <-time.After(10 * time.Millisecond):
			tdb.DB.Interrupt()
		}
	}
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))

	// Соединение снова работает
	v, err := queryOne(t, tdb.DB, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, 0, tdb.DB.WriteLock().Depth())
}
