package sqlite

import (
	"context"
	"fmt"
	"strings"
)

// LockingMode - режим файловой блокировки соединения.
type LockingMode string

const (
	LockingNormal    LockingMode = "NORMAL"
	LockingExclusive LockingMode = "EXCLUSIVE"
)

// SyncMode - значение PRAGMA synchronous.
type SyncMode string

const (
	SyncOff    SyncMode = "OFF"
	SyncNormal SyncMode = "NORMAL"
	SyncFull   SyncMode = "FULL"
	SyncExtra  SyncMode = "EXTRA"
)

// JournalMode - значение PRAGMA journal_mode.
type JournalMode string

const (
	JournalDelete   JournalMode = "DELETE"
	JournalTruncate JournalMode = "TRUNCATE"
	JournalPersist  JournalMode = "PERSIST"
	JournalMemory   JournalMode = "MEMORY"
	JournalWAL      JournalMode = "WAL"
	JournalOff      JournalMode = "OFF"
)

// syncLevels - уровни в порядке числовых значений PRAGMA synchronous.
var syncLevels = []SyncMode{SyncOff, SyncNormal, SyncFull, SyncExtra}

func (m LockingMode) valid() bool {
	return m == LockingNormal || m == LockingExclusive
}

func (m SyncMode) valid() bool {
	for _, level := range syncLevels {
		if m == level {
			return true
		}
	}
	return false
}

func (m JournalMode) valid() bool {
	switch m {
	case JournalDelete, JournalTruncate, JournalPersist, JournalMemory, JournalWAL, JournalOff:
		return true
	}
	return false
}

// ParseLockingMode разбирает режим блокировки без учёта регистра.
func ParseLockingMode(s string) (LockingMode, error) {
	m := LockingMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.valid() {
		return "", fmt.Errorf("%w: locking mode %q", ErrInvalidOption, s)
	}
	return m, nil
}

// ParseSyncMode разбирает уровень синхронизации без учёта регистра.
func ParseSyncMode(s string) (SyncMode, error) {
	m := SyncMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.valid() {
		return "", fmt.Errorf("%w: sync mode %q", ErrInvalidOption, s)
	}
	return m, nil
}

// ParseJournalMode разбирает режим журнала без учёта регистра.
func ParseJournalMode(s string) (JournalMode, error) {
	m := JournalMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.valid() {
		return "", fmt.Errorf("%w: journal mode %q", ErrInvalidOption, s)
	}
	return m, nil
}

// LockingMode возвращает текущий режим блокировки соединения.
func (db *DB) LockingMode(ctx context.Context) (LockingMode, error) {
	v, err := db.pragmaText(ctx, "PRAGMA locking_mode")
	if err != nil {
		return "", err
	}
	return ParseLockingMode(v)
}

// SetLockingMode устанавливает режим блокировки. Чтобы режим EXCLUSIVE
// вступил в силу сразу, выполняется пустая транзакция EXCLUSIVE.
func (db *DB) SetLockingMode(ctx context.Context, mode LockingMode) error {
	if !mode.valid() {
		return fmt.Errorf("%w: locking mode %q", ErrInvalidOption, mode)
	}
	if _, err := db.pragmaText(ctx, "PRAGMA locking_mode = "+string(mode)); err != nil {
		return err
	}
	return db.ExclusiveTransaction(ctx, func(context.Context, *Cursor) error { return nil })
}

// SyncMode возвращает текущий уровень синхронизации.
func (db *DB) SyncMode(ctx context.Context) (SyncMode, error) {
	v, err := db.pragmaValue(ctx, "PRAGMA synchronous")
	if err != nil {
		return "", err
	}
	level, ok := v.(int64)
	if !ok || level < 0 || int(level) >= len(syncLevels) {
		return "", fmt.Errorf("unexpected synchronous value %v", v)
	}
	return syncLevels[level], nil
}

// SetSyncMode устанавливает уровень синхронизации.
func (db *DB) SetSyncMode(ctx context.Context, mode SyncMode) error {
	if !mode.valid() {
		return fmt.Errorf("%w: sync mode %q", ErrInvalidOption, mode)
	}
	_, err := db.pragmaValue(ctx, "PRAGMA synchronous = "+string(mode))
	return err
}

// JournalMode возвращает текущий режим журнала.
func (db *DB) JournalMode(ctx context.Context) (JournalMode, error) {
	v, err := db.pragmaText(ctx, "PRAGMA journal_mode")
	if err != nil {
		return "", err
	}
	return ParseJournalMode(v)
}

// SetJournalMode устанавливает режим журнала и возвращает режим, который
// движок фактически включил (для in-memory базы WAL недоступен).
func (db *DB) SetJournalMode(ctx context.Context, mode JournalMode) (JournalMode, error) {
	if !mode.valid() {
		return "", fmt.Errorf("%w: journal mode %q", ErrInvalidOption, mode)
	}
	v, err := db.pragmaText(ctx, "PRAGMA journal_mode = "+string(mode))
	if err != nil {
		return "", err
	}
	return ParseJournalMode(v)
}

// pragmaValue выполняет PRAGMA в отдельном курсоре и возвращает первое значение.
func (db *DB) pragmaValue(ctx context.Context, query string) (any, error) {
	cur, err := db.Execute(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.CloseContext(ctx) }()

	row, err := cur.FetchOne()
	if err != nil || len(row) == 0 {
		return nil, err
	}
	return row[0], nil
}

func (db *DB) pragmaText(ctx context.Context, query string) (string, error) {
	v, err := db.pragmaValue(ctx, query)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}
