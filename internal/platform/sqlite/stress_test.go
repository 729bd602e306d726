package sqlite

import (
	"context"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	stressInsertions = 64
	stressIdle       = time.Millisecond
)

const elementScript = `
-- Create the ELEMENT table
CREATE TABLE element (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    state INTEGER NOT NULL);`

func insertElements(ctx context.Context, db *DB) error {
	for i := 0; i < stressInsertions; i++ {
		time.Sleep(stressIdle)
		cur, err := db.Cursor(ctx)
		if err != nil {
			return err
		}
		_, err = cur.Execute(ctx, "INSERT INTO element (state) VALUES (?)", 0)
		if closeErr := cur.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// pickElement выбирает случайную строку внутри транзакции; nil, если таблица пуста.
func pickElement(ctx context.Context, cur *Cursor) (Row, error) {
	if _, err := cur.Execute(ctx, "SELECT * FROM element"); err != nil {
		return nil, err
	}
	rows, err := cur.FetchAll()
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[rand.IntN(len(rows))], nil
}

func updateElements(ctx context.Context, db *DB, oldState, newState int64) error {
	for done := 0; done < stressInsertions; {
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(stressIdle)
		err := db.DeferredTransaction(ctx, func(ctx context.Context, cur *Cursor) error {
			item, err := pickElement(ctx, cur)
			if err != nil || item == nil || item[1].(int64) != oldState {
				return err
			}
			if _, err := cur.Execute(ctx, "UPDATE element SET state=? WHERE id=?", newState, item[0]); err != nil {
				return err
			}
			done++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func checkIsolation(ctx context.Context, db *DB) error {
	for i := 0; i < stressInsertions; i++ {
		time.Sleep(stressIdle)
		err := db.DeferredTransaction(ctx, func(ctx context.Context, cur *Cursor) error {
			if _, err := cur.Execute(ctx, "SELECT * FROM element"); err != nil {
				return err
			}
			first, err := cur.FetchAll()
			if err != nil {
				return err
			}
			time.Sleep(2 * stressIdle)
			if _, err := cur.Execute(ctx, "SELECT * FROM element"); err != nil {
				return err
			}
			second, err := cur.FetchAll()
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(first, second) {
				return fmt.Errorf("rows changed inside a transaction: %v != %v", first, second)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func deleteElements(ctx context.Context, db *DB, state int64) error {
	for done := 0; done < stressInsertions; {
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(stressIdle)
		err := db.DeferredTransaction(ctx, func(ctx context.Context, cur *Cursor) error {
			item, err := pickElement(ctx, cur)
			if err != nil || item == nil || item[1].(int64) != state {
				return err
			}
			if _, err := cur.Execute(ctx, "DELETE FROM element WHERE id=?", item[0]); err != nil {
				return err
			}
			done++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in short mode")
	}
	tdb := NewTestDBFile(t, WithInitScript(elementScript))
	db := tdb.DB

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return insertElements(ctx, db) })
	g.Go(func() error { return updateElements(ctx, db, 0, 1) })
	g.Go(func() error { return updateElements(ctx, db, 1, 2) })
	g.Go(func() error { return checkIsolation(ctx, db) })
	g.Go(func() error { return deleteElements(ctx, db, 2) })
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(0), tdb.CountRows(t, "element"))
	assert.False(t, db.InTransaction())
	assert.Equal(t, 0, db.WriteLock().Depth())
}
