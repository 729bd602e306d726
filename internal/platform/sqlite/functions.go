package sqlite

import (
	"context"
	"fmt"
	"math"
	"time"

	zsqlite "zombiezen.com/go/sqlite"
)

// ScalarFunc - пользовательская функция SQL. Аргументы приходят как nil,
// int64, float64, string или []byte; результат принимает те же типы, что и
// параметры инструкций. Функция вызывается во время выполнения инструкции
// и не должна обращаться к той же базе данных.
type ScalarFunc func(args []any) (any, error)

// CollationFunc сравнивает две строки: <0, 0 или >0.
type CollationFunc func(a, b string) int

// extension - необязательные возможности движка сверх Engine.
type extension interface {
	CreateFunction(name string, nArgs int, deterministic bool, fn ScalarFunc) error
	CreateCollation(name string, compare CollationFunc) error
	Interrupt()
}

var _ extension = (*ConnEngine)(nil)

// CreateFunction регистрирует скалярную функцию name с nArgs аргументами
// (отрицательное число - любое). deterministic разрешает использовать её
// в индексах и включает оптимизации движка.
func (db *DB) CreateFunction(name string, nArgs int, deterministic bool, fn ScalarFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: nil function %q", ErrInvalidOption, name)
	}
	ext, err := db.extension()
	if err != nil {
		return err
	}
	return ext.CreateFunction(name, nArgs, deterministic, fn)
}

// CreateCollation регистрирует правило сравнения name; nil удаляет его.
func (db *DB) CreateCollation(name string, compare CollationFunc) error {
	ext, err := db.extension()
	if err != nil {
		return err
	}
	return ext.CreateCollation(name, compare)
}

// Interrupt прерывает инструкцию, выполняющуюся на соединении прямо сейчас.
// Прерванная инструкция возвращает ошибку, для которой IsInterrupted истинно.
// Без выполняющейся инструкции ничего не делает. Блокировку записи не берёт.
func (db *DB) Interrupt() {
	if ext, err := db.extension(); err == nil {
		ext.Interrupt()
	}
}

func (db *DB) extension() (extension, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	ext, ok := db.engine.(extension)
	if !ok {
		return nil, fmt.Errorf("%w: engine %T", ErrUnsupported, db.engine)
	}
	return ext, nil
}

// CreateFunction реализует extension.
func (e *ConnEngine) CreateFunction(name string, nArgs int, deterministic bool, fn ScalarFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return ErrClosed
	}
	return e.conn.CreateFunction(name, &zsqlite.FunctionImpl{
		NArgs:         nArgs,
		Deterministic: deterministic,
		AllowIndirect: true,
		Scalar: func(_ zsqlite.Context, args []zsqlite.Value) (zsqlite.Value, error) {
			in := make([]any, len(args))
			for i, arg := range args {
				in[i] = fromValue(arg)
			}
			out, err := fn(in)
			if err != nil {
				return zsqlite.Value{}, err
			}
			return toValue(out)
		},
	})
}

// CreateCollation реализует extension.
func (e *ConnEngine) CreateCollation(name string, compare CollationFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return ErrClosed
	}
	if compare == nil {
		return e.conn.SetCollation(name, nil)
	}
	return e.conn.SetCollation(name, zsqlite.CollatingFunc(compare))
}

// Interrupt реализует extension. Вызывается без e.mu: инструкция,
// которую нужно прервать, держит его до своего завершения.
func (e *ConnEngine) Interrupt() {
	e.intrMu.Lock()
	defer e.intrMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// watch прерывает текущую инструкцию при отмене ctx или вызове Interrupt.
// Вызывается под e.mu.
func (e *ConnEngine) watch(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	e.intrMu.Lock()
	e.cancel = cancel
	e.intrMu.Unlock()

	old := e.conn.SetInterrupt(ctx.Done())
	return func() {
		e.intrMu.Lock()
		e.cancel = nil
		e.intrMu.Unlock()
		e.conn.SetInterrupt(old)
		cancel()
	}
}

func fromValue(v zsqlite.Value) any {
	switch v.Type() {
	case zsqlite.TypeInteger:
		return v.Int64()
	case zsqlite.TypeFloat:
		return v.Float()
	case zsqlite.TypeText:
		return v.Text()
	case zsqlite.TypeBlob:
		return v.Blob()
	default:
		return nil
	}
}

func toValue(v any) (zsqlite.Value, error) {
	switch v := v.(type) {
	case nil:
		return zsqlite.Value{}, nil
	case bool:
		if v {
			return zsqlite.IntegerValue(1), nil
		}
		return zsqlite.IntegerValue(0), nil
	case int:
		return zsqlite.IntegerValue(int64(v)), nil
	case int8:
		return zsqlite.IntegerValue(int64(v)), nil
	case int16:
		return zsqlite.IntegerValue(int64(v)), nil
	case int32:
		return zsqlite.IntegerValue(int64(v)), nil
	case int64:
		return zsqlite.IntegerValue(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return zsqlite.Value{}, fmt.Errorf("%w: result overflows int64", ErrUnsupportedArg)
		}
		return zsqlite.IntegerValue(int64(v)), nil
	case uint8:
		return zsqlite.IntegerValue(int64(v)), nil
	case uint16:
		return zsqlite.IntegerValue(int64(v)), nil
	case uint32:
		return zsqlite.IntegerValue(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return zsqlite.Value{}, fmt.Errorf("%w: result overflows int64", ErrUnsupportedArg)
		}
		return zsqlite.IntegerValue(int64(v)), nil
	case float32:
		return zsqlite.FloatValue(float64(v)), nil
	case float64:
		return zsqlite.FloatValue(v), nil
	case string:
		return zsqlite.TextValue(v), nil
	case []byte:
		if v == nil {
			return zsqlite.Value{}, nil
		}
		return zsqlite.BlobValue(v), nil
	case time.Time:
		return zsqlite.TextValue(v.Format(time.RFC3339Nano)), nil
	default:
		return zsqlite.Value{}, fmt.Errorf("%w: result has type %T", ErrUnsupportedArg, v)
	}
}
