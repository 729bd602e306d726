package sqlite

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ForeignKeyRef - ссылка столбца на другую таблицу (PRAGMA foreign_key_list).
type ForeignKeyRef struct {
	ID     int64  `json:"id"`
	Seq    int64  `json:"seq"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// IndexRef - участие столбца в индексе (PRAGMA index_list + index_info).
type IndexRef struct {
	Seq    int64  `json:"seq"`
	Rank   int64  `json:"rank"`
	CID    int64  `json:"cid"`
	Unique bool   `json:"unique"`
	Origin string `json:"origin"`
}

// ColumnInfo - описание одного столбца таблицы.
type ColumnInfo struct {
	CID        int64          `json:"cid"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	NotNull    bool           `json:"not_null"`
	Default    any            `json:"default"`
	PrimaryKey int64          `json:"primary_key"`
	ForeignKey *ForeignKeyRef `json:"foreign_key,omitempty"`
	Index      *IndexRef      `json:"index,omitempty"`
}

// Equal сравнивает все поля описания столбца.
func (c ColumnInfo) Equal(o ColumnInfo) bool {
	return reflect.DeepEqual(c, o)
}

// ListTables возвращает имена пользовательских таблиц в порядке их создания.
func (db *DB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := db.queryAll(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, asString(row[0]))
	}
	return tables, nil
}

// Inspect возвращает описания столбцов таблицы в порядке объявления.
// Для несуществующей таблицы возвращает ErrTableNotFound.
func (db *DB) Inspect(ctx context.Context, table string) ([]ColumnInfo, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}

	foreignKeys, err := db.foreignKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	indexes, err := db.indexes(ctx, table)
	if err != nil {
		return nil, err
	}

	rows, err := db.queryAll(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	columns := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		name := asString(row[1])
		columns = append(columns, ColumnInfo{
			CID:        asInt64(row[0]),
			Name:       name,
			Type:       asString(row[2]),
			NotNull:    asInt64(row[3]) != 0,
			Default:    row[4],
			PrimaryKey: asInt64(row[5]),
			ForeignKey: foreignKeys[name],
			Index:      indexes[name],
		})
	}
	return columns, nil
}

// Match проверяет, что каждая таблица этой базы есть в other с теми же
// столбцами в том же порядке. Лишние таблицы в other допускаются.
func (db *DB) Match(ctx context.Context, other *DB) (bool, error) {
	tables, err := db.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, table := range tables {
		want, err := db.Inspect(ctx, table)
		if err != nil {
			return false, err
		}
		got, err := other.Inspect(ctx, table)
		if errors.Is(err, ErrTableNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(want) != len(got) {
			return false, nil
		}
		for i := range want {
			if !want[i].Equal(got[i]) {
				return false, nil
			}
		}
	}
	return true, nil
}

func (db *DB) foreignKeys(ctx context.Context, table string) (map[string]*ForeignKeyRef, error) {
	rows, err := db.queryAll(ctx, "PRAGMA foreign_key_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	result := make(map[string]*ForeignKeyRef, len(rows))
	for _, row := range rows {
		// id, seq, table, from, to, on_update, on_delete, match
		result[asString(row[3])] = &ForeignKeyRef{
			ID:     asInt64(row[0]),
			Seq:    asInt64(row[1]),
			Table:  asString(row[2]),
			Column: asString(row[4]),
		}
	}
	return result, nil
}

func (db *DB) indexes(ctx context.Context, table string) (map[string]*IndexRef, error) {
	list, err := db.queryAll(ctx, "PRAGMA index_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	result := make(map[string]*IndexRef)
	for _, idx := range list {
		// seq, name, unique, origin, partial
		info, err := db.queryAll(ctx, "PRAGMA index_info("+quoteIdent(asString(idx[1]))+")")
		if err != nil {
			return nil, err
		}
		for _, col := range info {
			// seqno, cid, name; name пустой для выражений
			name := asString(col[2])
			if name == "" {
				continue
			}
			result[name] = &IndexRef{
				Seq:    asInt64(idx[0]),
				Rank:   asInt64(col[0]),
				CID:    asInt64(col[1]),
				Unique: asInt64(idx[2]) != 0,
				Origin: asString(idx[3]),
			}
		}
	}
	return result, nil
}

// queryAll выполняет инструкцию в отдельном курсоре и читает все строки.
func (db *DB) queryAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	cur, err := db.Execute(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	rows, err := cur.FetchAll()
	if closeErr := cur.CloseContext(ctx); err == nil {
		err = closeErr
	}
	return rows, err
}

func validateTableName(table string) error {
	if table == "" || strings.ContainsRune(table, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
