package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hbollon/go-edlib"
)

// DefaultPingTimeout - таймаут Ping по умолчанию.
const DefaultPingTimeout = 5 * time.Second

// Ping проверяет, что дескриптор открыт и движок отвечает на запрос.
func (db *DB) Ping(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultPingTimeout)
		defer cancel()
	}
	rows, err := db.queryAll(ctx, "SELECT 1")
	if err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	if len(rows) != 1 || asInt64(rows[0][0]) != 1 {
		return fmt.Errorf("sqlite ping failed: unexpected result %v", rows)
	}
	return nil
}

// QuickCheck выполняет PRAGMA quick_check и возвращает найденные проблемы.
// Пустой срез означает, что база цела.
func (db *DB) QuickCheck(ctx context.Context) ([]string, error) {
	rows, err := db.queryAll(ctx, "PRAGMA quick_check")
	if err != nil {
		return nil, err
	}
	var problems []string
	for _, row := range rows {
		if msg := asString(row[0]); msg != "ok" {
			problems = append(problems, msg)
		}
	}
	return problems, nil
}

// minSuggestScore - порог похожести имени, ниже которого подсказка не даётся.
const minSuggestScore = 0.7

// SuggestTable возвращает наиболее похожее на name имя существующей таблицы
// (сходство Джаро-Винклера без учёта регистра). ok=false, если похожих нет.
func (db *DB) SuggestTable(ctx context.Context, name string) (suggestion string, ok bool, err error) {
	tables, err := db.ListTables(ctx)
	if err != nil {
		return "", false, err
	}
	suggestion, ok = closestName(name, tables)
	return suggestion, ok, nil
}

func closestName(name string, candidates []string) (string, bool) {
	target := strings.ToLower(name)
	var best string
	var bestScore float32
	for _, c := range candidates {
		score := edlib.JaroWinklerSimilarity(target, strings.ToLower(c))
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < minSuggestScore {
		return "", false
	}
	return best, true
}
