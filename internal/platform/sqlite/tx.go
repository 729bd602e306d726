package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// TxLockMode определяет режим блокировки транзакций SQLite
type TxLockMode string

const (
	// TxLockDeferred - откладывает блокировку до первого чтения/записи (по умолчанию SQLite)
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate - немедленно захватывает RESERVED блокировку для избежания SQLITE_BUSY при записи
	TxLockImmediate TxLockMode = "IMMEDIATE"
	// TxLockExclusive - немедленно захватывает EXCLUSIVE блокировку
	TxLockExclusive TxLockMode = "EXCLUSIVE"
	// TxLockNone - без управления транзакцией: BEGIN/COMMIT не выполняются
	TxLockNone TxLockMode = "NONE"
)

func (m TxLockMode) valid() bool {
	switch m {
	case TxLockDeferred, TxLockImmediate, TxLockExclusive:
		return true
	}
	return false
}

// ParseTxLockMode разбирает режим без учёта регистра.
func ParseTxLockMode(s string) (TxLockMode, error) {
	mode := TxLockMode(strings.ToUpper(strings.TrimSpace(s)))
	if mode == TxLockNone || mode.valid() {
		return mode, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTxMode, s)
}

// beginStatement возвращает текст BEGIN для режима; для TxLockNone - пустую строку.
func beginStatement(mode TxLockMode) (string, error) {
	if mode == TxLockNone {
		return "", nil
	}
	if !mode.valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTxMode, mode)
	}
	return "BEGIN " + string(mode), nil
}

// TxState - состояние области транзакции.
type TxState int

const (
	TxInactive TxState = iota
	TxEntered
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxInactive:
		return "inactive"
	case TxEntered:
		return "entered"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// txKey используется как ключ для хранения курсора транзакции в context.Context
type txKey struct{}

// TxCursor извлекает курсор активной транзакции из контекста.
func TxCursor(ctx context.Context) (*Cursor, bool) {
	cur, ok := ctx.Value(txKey{}).(*Cursor)
	return cur, ok
}

// Tx - область транзакции: INACTIVE -> ENTERED -> COMMITTED | ROLLED_BACK.
//
// Enter захватывает блокировку записи и, если транзакция на соединении ещё
// не открыта, выполняет BEGIN <mode>. Вложенная область (транзакция уже
// открыта) не выполняет ни BEGIN, ни COMMIT/ROLLBACK: исход определяет
// внешняя область. Exit всегда закрывает курсор и освобождает блокировку.
type Tx struct {
	db      *DB
	mode    TxLockMode
	state   TxState
	nested  bool
	ctx     context.Context
	cur     *Cursor
	started time.Time
}

// NewTx создает область транзакции в состоянии TxInactive.
func (db *DB) NewTx(mode TxLockMode) *Tx {
	return &Tx{db: db, mode: mode}
}

// Mode возвращает режим транзакции.
func (t *Tx) Mode() TxLockMode { return t.mode }

// State возвращает текущее состояние.
func (t *Tx) State() TxState { return t.state }

// Nested сообщает, что при входе транзакция уже была открыта.
func (t *Tx) Nested() bool { return t.nested }

// Cursor возвращает внутренний курсор; nil вне состояния TxEntered.
func (t *Tx) Cursor() *Cursor {
	if t.state != TxEntered {
		return nil
	}
	return t.cur
}

// Enter входит в область. Возвращённый контекст владеет блокировкой записи
// и несёт курсор транзакции (см. TxCursor); его нужно использовать для всех
// вызовов внутри области.
func (t *Tx) Enter(ctx context.Context) (context.Context, *Cursor, error) {
	if t.state != TxInactive {
		return ctx, nil, fmt.Errorf("%w: enter in state %s", ErrTxState, t.state)
	}
	begin, err := beginStatement(t.mode)
	if err != nil {
		return ctx, nil, err
	}
	if err := t.db.checkOpen(); err != nil {
		return ctx, nil, err
	}

	lctx := t.db.acquire(ctx)
	t.started = time.Now()
	t.nested = t.db.engine.InTransaction()
	cur := t.db.newCursor(lctx)

	if !t.nested && begin != "" {
		if _, err := cur.Execute(lctx, begin); err != nil {
			_ = cur.discard()
			t.db.lock.Release(lctx)
			t.state = TxRolledBack
			t.db.opts.Observer.TxFinished(t.mode, t.state, time.Since(t.started))
			return ctx, nil, err
		}
	}

	t.ctx = context.WithValue(lctx, txKey{}, cur)
	t.cur = cur
	t.state = TxEntered
	return t.ctx, cur, nil
}

// Exit выходит из области. bodyErr - результат тела: nil ведёт к COMMIT,
// ошибка - к ROLLBACK, и она же возвращается без изменений. Если COMMIT
// не удался, выполняется ROLLBACK и возвращается ошибка COMMIT.
func (t *Tx) Exit(bodyErr error) error {
	if t.state != TxEntered {
		return fmt.Errorf("%w: exit in state %s", ErrTxState, t.state)
	}
	defer t.db.lock.Release(t.ctx)

	outcome := TxCommitted
	if bodyErr != nil {
		outcome = TxRolledBack
	}

	// результат внутреннего курсора закрывается до COMMIT
	err := t.cur.discard()
	if !t.nested && !t.db.IsClosed() && t.db.engine.InTransaction() {
		if bodyErr == nil {
			if commitErr := t.db.exec(t.ctx, "COMMIT"); commitErr != nil {
				err = commitErr
				outcome = TxRolledBack
				if t.db.engine.InTransaction() {
					t.rollback()
				}
			}
		} else {
			t.rollback()
		}
	}

	t.state = outcome
	t.db.opts.Observer.TxFinished(t.mode, outcome, time.Since(t.started))

	if bodyErr != nil {
		return bodyErr
	}
	return err
}

// rollback выполняет ROLLBACK; ошибка отката только логируется,
// чтобы не подменять исходную ошибку.
func (t *Tx) rollback() {
	if err := t.db.rollback(t.ctx); err != nil {
		t.db.log.Warn("transaction rollback failed",
			slog.String("mode", string(t.mode)),
			slog.String("error", err.Error()))
	}
}

// Transaction выполняет fn внутри области транзакции. Ошибка или паника fn
// ведут к ROLLBACK; паника пробрасывается дальше после очистки.
func (db *DB) Transaction(ctx context.Context, mode TxLockMode, fn func(ctx context.Context, cur *Cursor) error) error {
	tx := db.NewTx(mode)
	txCtx, cur, err := tx.Enter(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Exit(fmt.Errorf("panic in transaction: %v", p))
			panic(p)
		}
	}()

	return tx.Exit(fn(txCtx, cur))
}

// DeferredTransaction - Transaction в режиме DEFERRED.
func (db *DB) DeferredTransaction(ctx context.Context, fn func(ctx context.Context, cur *Cursor) error) error {
	return db.Transaction(ctx, TxLockDeferred, fn)
}

// ImmediateTransaction - Transaction в режиме IMMEDIATE.
func (db *DB) ImmediateTransaction(ctx context.Context, fn func(ctx context.Context, cur *Cursor) error) error {
	return db.Transaction(ctx, TxLockImmediate, fn)
}

// ExclusiveTransaction - Transaction в режиме EXCLUSIVE.
func (db *DB) ExclusiveTransaction(ctx context.Context, fn func(ctx context.Context, cur *Cursor) error) error {
	return db.Transaction(ctx, TxLockExclusive, fn)
}

// WithinTx выполняет fn внутри транзакции в режиме Options.TxLockMode.
// Курсор транзакции доступен внутри fn через TxCursor(ctx); вызовы
// db.Execute с этим контекстом не блокируются на блокировке записи.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.Transaction(ctx, db.opts.TxLockMode, func(ctx context.Context, _ *Cursor) error {
		return fn(ctx)
	})
}

var savepointSeq atomic.Uint64

// WithinSavepoint выполняет fn внутри savepoint.
// Если уже есть активная транзакция, savepoint создаётся внутри неё.
// Если нет - открывается новая транзакция в режиме Options.TxLockMode.
// При ошибке откатывается к savepoint, при успехе - освобождает savepoint.
func (db *DB) WithinSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	mode := db.opts.TxLockMode
	if mode == TxLockNone {
		mode = TxLockDeferred
	}
	return db.Transaction(ctx, mode, func(ctx context.Context, cur *Cursor) error {
		name := fmt.Sprintf("sp_%d", savepointSeq.Add(1))

		if _, err := cur.Execute(ctx, "SAVEPOINT "+name); err != nil {
			return fmt.Errorf("failed to create savepoint %s: %w", name, err)
		}

		if err := fn(ctx); err != nil {
			cleanup := context.WithoutCancel(ctx)
			if _, rbErr := cur.Execute(cleanup, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
				return fmt.Errorf("failed to rollback to savepoint %s: %v (original error: %w)", name, rbErr, err)
			}
			_, _ = cur.Execute(cleanup, "RELEASE SAVEPOINT "+name)
			return err
		}

		if _, err := cur.Execute(ctx, "RELEASE SAVEPOINT "+name); err != nil {
			return fmt.Errorf("failed to release savepoint %s: %w", name, err)
		}
		return nil
	})
}
