package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
)

var errStopDump = errors.New("dump stopped")

// IterDump отдаёт SQL-дамп базы построчно. Блокировка записи удерживается,
// пока идёт перебор, поэтому внутри цикла нельзя обращаться к этому
// дескриптору с другим контекстом.
func (db *DB) IterDump(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := db.checkOpen(); err != nil {
			yield("", err)
			return
		}
		ctx := db.acquire(ctx)
		defer db.lock.Release(ctx)

		err := db.dumpLocked(ctx, func(line string) error {
			if !yield(line, nil) {
				return errStopDump
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopDump) {
			yield("", err)
		}
	}
}

// Dump возвращает дамп одной строкой, инструкции разделены переводом строки.
func (db *DB) Dump(ctx context.Context) (string, error) {
	var lines []string
	for line, err := range db.IterDump(ctx) {
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// DumpTo пишет дамп в w, каждая инструкция завершается переводом строки.
func (db *DB) DumpTo(ctx context.Context, w io.Writer) error {
	for line, err := range db.IterDump(ctx) {
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("failed to write dump: %w", err)
		}
	}
	return nil
}

// DumpFile пишет дамп в файл path, перезаписывая его.
func (db *DB) DumpFile(ctx context.Context, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close dump file: %w", closeErr)
		}
	}()
	return db.DumpTo(ctx, f)
}

// dumpLocked формирует дамп: таблицы по имени со строками данных,
// затем индексы, триггеры и представления, в конце sqlite_sequence.
func (db *DB) dumpLocked(ctx context.Context, emit func(string) error) error {
	if err := emit("BEGIN TRANSACTION;"); err != nil {
		return err
	}

	tables, err := db.queryAll(ctx,
		`SELECT "name", "type", "sql" FROM "sqlite_master" WHERE "sql" NOT NULL AND "type" == 'table' ORDER BY "name"`)
	if err != nil {
		return err
	}

	var sequence []string
	writableSchema := false
	for _, t := range tables {
		name, sql := asString(t[0]), asString(t[2])
		switch {
		case name == "sqlite_sequence":
			rows, err := db.queryAll(ctx, `SELECT * FROM "sqlite_sequence";`)
			if err != nil {
				return err
			}
			sequence = append(sequence, `DELETE FROM "sqlite_sequence";`)
			for _, r := range rows {
				sequence = append(sequence, fmt.Sprintf(`INSERT INTO "sqlite_sequence" VALUES(%s,%d);`,
					quoteLiteral(asString(r[0])), asInt64(r[1])))
			}
			continue
		case name == "sqlite_stat1":
			if err := emit(`ANALYZE "sqlite_master";`); err != nil {
				return err
			}
		case strings.HasPrefix(name, "sqlite_"):
			continue
		case strings.HasPrefix(sql, "CREATE VIRTUAL TABLE"):
			if !writableSchema {
				writableSchema = true
				if err := emit("PRAGMA writable_schema=ON;"); err != nil {
					return err
				}
			}
			stmt := fmt.Sprintf("INSERT INTO sqlite_master(type,name,tbl_name,rootpage,sql)VALUES('table',%s,%s,0,%s);",
				quoteLiteral(name), quoteLiteral(name), quoteLiteral(sql))
			if err := emit(stmt); err != nil {
				return err
			}
			// данные виртуальной таблицы лежат в её теневых таблицах
			continue
		default:
			if err := emit(sql + ";"); err != nil {
				return err
			}
		}

		if err := db.dumpRows(ctx, name, emit); err != nil {
			return err
		}
	}

	objects, err := db.queryAll(ctx,
		`SELECT "name", "type", "sql" FROM "sqlite_master" WHERE "sql" NOT NULL AND "type" IN ('index', 'trigger', 'view')`)
	if err != nil {
		return err
	}
	for _, o := range objects {
		if err := emit(asString(o[2]) + ";"); err != nil {
			return err
		}
	}

	if writableSchema {
		if err := emit("PRAGMA writable_schema=OFF;"); err != nil {
			return err
		}
	}
	for _, stmt := range sequence {
		if err := emit(stmt); err != nil {
			return err
		}
	}
	return emit("COMMIT;")
}

// dumpRows выдаёт INSERT для каждой строки таблицы; значения форматирует движок (quote()).
func (db *DB) dumpRows(ctx context.Context, table string, emit func(string) error) error {
	info, err := db.queryAll(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return err
	}
	if len(info) == 0 {
		return nil
	}

	parts := make([]string, 0, len(info))
	for _, col := range info {
		parts = append(parts, "quote("+quoteIdent(asString(col[1]))+")")
	}
	ident := quoteIdent(table)
	query := fmt.Sprintf("SELECT %s||%s||')' FROM %s;",
		quoteLiteral("INSERT INTO "+ident+" VALUES("),
		strings.Join(parts, "||','||"),
		ident)

	cur, err := db.Execute(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = cur.CloseContext(ctx) }()

	for row, err := range cur.Fetch(0, 0) {
		if err != nil {
			return err
		}
		if err := emit(asString(row[0]) + ";"); err != nil {
			return err
		}
	}
	return nil
}
