package sqlite

import (
	"fmt"

	zsqlite "zombiezen.com/go/sqlite"

	"litedb/internal/shared"
)

// Ошибки конфигурации: неверный запрос на открытие, имя таблицы или режим.
var (
	ErrMissingDatabase  = fmt.Errorf("%w: missing database", shared.ErrValidation)
	ErrInvalidTxMode    = fmt.Errorf("%w: invalid transaction mode", shared.ErrValidation)
	ErrInvalidTableName = fmt.Errorf("%w: invalid table name", shared.ErrValidation)
	ErrInvalidOption    = fmt.Errorf("%w: invalid option", shared.ErrValidation)
)

// ErrTableNotFound возвращается Inspect для таблицы без столбцов.
var ErrTableNotFound = fmt.Errorf("%w: non-existent table", shared.ErrNotFound)

// Ошибки программиста: использование после закрытия и нарушение протокола областей.
var (
	ErrClosed             = fmt.Errorf("%w: cannot operate on a closed database", shared.ErrMisuse)
	ErrCursorClosed       = fmt.Errorf("%w: cannot operate on a closed cursor", shared.ErrMisuse)
	ErrTxState            = fmt.Errorf("%w: invalid transaction scope state", shared.ErrMisuse)
	ErrMultipleStatements = fmt.Errorf("%w: you can only execute one statement at a time", shared.ErrMisuse)
	ErrBindCount          = fmt.Errorf("%w: incorrect number of bindings supplied", shared.ErrMisuse)
	ErrUnsupportedArg     = fmt.Errorf("%w: unsupported parameter type", shared.ErrMisuse)
	ErrUnsupported        = fmt.Errorf("%w: not supported by the engine", shared.ErrMisuse)
)

// ErrNotRegularFile возвращается Destroy, если путь не указывает на обычный файл.
var ErrNotRegularFile = fmt.Errorf("%w: filename not pointing to an actual file", shared.ErrIntegrity)

// IsBusy сообщает, что движок не дождался файловой блокировки (SQLITE_BUSY / SQLITE_LOCKED).
// Это единственный класс ошибок движка, который имеет смысл повторять.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if shared.IsBusy(err) {
		return true
	}
	switch zsqlite.ErrCode(err).ToPrimary() {
	case zsqlite.ResultBusy, zsqlite.ResultLocked:
		return true
	}
	return false
}

// IsConstraint сообщает о нарушении ограничения (UNIQUE, NOT NULL, FOREIGN KEY...).
func IsConstraint(err error) bool {
	return err != nil && zsqlite.ErrCode(err).ToPrimary() == zsqlite.ResultConstraint
}

// IsInterrupted сообщает, что выполнение инструкции прервано отменой контекста или Interrupt.
func IsInterrupted(err error) bool {
	return err != nil && zsqlite.ErrCode(err).ToPrimary() == zsqlite.ResultInterrupt
}

// Classify помечает ошибку движка видом из shared, не меняя исходную цепочку.
// Нужна внешним слоям (HTTP, CLI) для выбора реакции.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.KindOf(err) != shared.KindUnknown:
		return err
	case IsBusy(err):
		return shared.MarkKind(err, shared.KindBusy)
	case IsConstraint(err):
		return shared.MarkKind(err, shared.KindIntegrity)
	default:
		return shared.MarkKind(err, shared.KindInternal)
	}
}
