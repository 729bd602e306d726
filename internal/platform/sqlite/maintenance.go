package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"litedb/pkg/retry"
)

// Backup сохраняет согласованную копию базы в файл dst, перезаписывая его.
// Копия собирается через VACUUM INTO во временный файл рядом с dst и
// атомарно переименовывается.
func (db *DB) Backup(ctx context.Context, dst string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	target, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("%w: backup target %s: %v", ErrInvalidOption, dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(target), err)
	}

	tmp := fmt.Sprintf("%s.tmp-%d", target, time.Now().UnixNano())
	if err := db.VacuumInto(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to back up database: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move backup into place: %w", err)
	}
	return nil
}

// Vacuum перестраивает файл базы данных.
func (db *DB) Vacuum(ctx context.Context) error {
	cur, err := db.Execute(ctx, "VACUUM")
	if err != nil {
		return err
	}
	return cur.CloseContext(ctx)
}

// VacuumInto записывает сжатую копию базы в новый файл dst. Файл не должен существовать.
func (db *DB) VacuumInto(ctx context.Context, dst string) error {
	target, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("%w: vacuum target %s: %v", ErrInvalidOption, dst, err)
	}
	cur, err := db.Execute(ctx, "VACUUM INTO "+quoteLiteral(target))
	if err != nil {
		return err
	}
	return cur.CloseContext(ctx)
}

// Optimize выполняет PRAGMA optimize.
func (db *DB) Optimize(ctx context.Context) error {
	cur, err := db.Execute(ctx, "PRAGMA optimize")
	if err != nil {
		return err
	}
	return cur.CloseContext(ctx)
}

// TotalChanges возвращает число строк, изменённых с момента открытия соединения.
func (db *DB) TotalChanges(ctx context.Context) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	row, err := db.queryRow(ctx, "SELECT total_changes()")
	if err != nil || len(row) == 0 {
		return 0, err
	}
	return asInt64(row[0]), nil
}

// Serialize возвращает образ основной схемы в формате файла базы данных.
func (db *DB) Serialize(ctx context.Context) ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	ctx = db.acquire(ctx)
	defer db.lock.Release(ctx)
	return db.engine.Serialize("main")
}

// Deserialize заменяет основную схему образом data. После этого дескриптор
// работает с in-memory базой: путь становится ":memory:", а блокировка
// записи остаётся прежней.
func (db *DB) Deserialize(ctx context.Context, data []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty database image", ErrInvalidOption)
	}
	ctx = db.acquire(ctx)
	defer db.lock.Release(ctx)

	if err := db.engine.Deserialize("main", data); err != nil {
		return fmt.Errorf("failed to deserialize database: %w", err)
	}
	db.stateMu.Lock()
	db.inMemory = true
	db.path = MemoryPath
	db.stateMu.Unlock()
	return nil
}

// RetryBusy повторяет fn, пока она завершается ошибкой SQLITE_BUSY/SQLITE_LOCKED.
// Остальные ошибки возвращаются сразу.
func RetryBusy(ctx context.Context, cfg retry.Config, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, cfg, fn, IsBusy)
	var exceeded *retry.RetriesExceededError
	if errors.As(err, &exceeded) {
		return Classify(err)
	}
	return err
}
