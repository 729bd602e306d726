package sqlite

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
)

// Cursor - область одной или нескольких инструкций поверх общего соединения.
//
// Инструкции SELECT выполняются без блокировки записи, все остальные - под ней.
// Если при создании курсора транзакция не была открыта (курсор не вложенный),
// Close откатывает транзакцию, оставленную открытой.
type Cursor struct {
	db     *DB
	holder *lockHolder
	nested bool

	mu        sync.Mutex
	rows      Rows
	columns   []string
	lastRowID int64
	rowCount  int64
	arraySize int
	closed    bool
}

func (db *DB) newCursor(ctx context.Context) *Cursor {
	var holder *lockHolder
	if db.lock.Held(ctx) {
		holder = db.lock.holderOf(ctx)
	}
	return &Cursor{
		db:        db,
		holder:    holder,
		nested:    db.engine.InTransaction(),
		rowCount:  -1,
		arraySize: db.opts.ArraySize,
	}
}

// IsNested сообщает, была ли открыта транзакция при создании курсора.
func (c *Cursor) IsNested() bool {
	return c.nested
}

// DB возвращает дескриптор, которому принадлежит курсор.
func (c *Cursor) DB() *DB {
	return c.db
}

// ArraySize возвращает размер пачки строк по умолчанию.
func (c *Cursor) ArraySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arraySize
}

// SetArraySize задаёт размер пачки строк; значения меньше 1 игнорируются.
func (c *Cursor) SetArraySize(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	c.arraySize = n
	c.mu.Unlock()
}

// Columns возвращает имена столбцов результата последней инструкции.
func (c *Cursor) Columns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.columns
}

// LastRowID возвращает rowid последней вставки на соединении после последней инструкции.
func (c *Cursor) LastRowID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRowID
}

// RowCount возвращает число изменённых строк для INSERT/UPDATE/DELETE/REPLACE и -1 для остальных.
func (c *Cursor) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

// Execute выполняет одну инструкцию. Возвращает сам курсор для цепочек вызовов.
func (c *Cursor) Execute(ctx context.Context, query string, args ...any) (*Cursor, error) {
	query = strings.TrimSpace(query)
	if isReadStatement(query) {
		return c, c.run(ctx, query, args)
	}
	ctx = c.db.acquire(c.db.lock.bind(ctx, c.holder))
	defer c.db.lock.Release(ctx)
	return c, c.run(ctx, query, args)
}

// ExecuteMany выполняет инструкцию для каждого набора параметров под блокировкой записи.
func (c *Cursor) ExecuteMany(ctx context.Context, query string, argSets [][]any) (*Cursor, error) {
	query = strings.TrimSpace(query)
	ctx = c.db.acquire(c.db.lock.bind(ctx, c.holder))
	defer c.db.lock.Release(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return c, err
	}
	c.resetLocked()

	total, err := c.db.engine.ExecuteMany(ctx, query, argSets)
	c.db.opts.Observer.StatementExecuted(statementKind(query), err)
	if err != nil {
		return c, err
	}
	c.lastRowID = c.db.engine.LastRowID()
	if isDMLStatement(query) {
		c.rowCount = total
	}
	return c, nil
}

// ExecuteScript выполняет скрипт под блокировкой записи. Если mode не TxLockNone
// и транзакция не открыта, скрипт обрамляется BEGIN mode / COMMIT, а при
// ошибке обрамляющая транзакция откатывается до возврата.
// Внутри открытой транзакции скрипт выполняется как есть.
func (c *Cursor) ExecuteScript(ctx context.Context, script string, mode TxLockMode) (*Cursor, error) {
	begin, err := beginStatement(mode)
	if err != nil {
		return c, err
	}
	ctx = c.db.acquire(c.db.lock.bind(ctx, c.holder))
	defer c.db.lock.Release(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return c, err
	}
	c.resetLocked()

	transactional := begin != "" && !c.db.engine.InTransaction()
	if transactional {
		if err := c.db.exec(ctx, begin); err != nil {
			return c, err
		}
	}
	err = c.db.engine.ExecuteScript(ctx, strings.TrimSpace(script))
	c.db.opts.Observer.StatementExecuted("SCRIPT", err)
	if err == nil && transactional {
		err = c.db.exec(ctx, "COMMIT")
	}
	if err != nil {
		// своя транзакция откатывается до освобождения блокировки,
		// иначе в неё попадут записи других владельцев
		if transactional && c.db.engine.InTransaction() {
			if rbErr := c.db.rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
		return c, err
	}
	c.lastRowID = c.db.engine.LastRowID()
	return c, nil
}

func (c *Cursor) run(ctx context.Context, query string, args []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	c.resetLocked()

	rows, err := c.db.engine.Execute(ctx, query, args)
	c.db.opts.Observer.StatementExecuted(statementKind(query), err)
	if err != nil {
		return err
	}
	c.rows = rows
	c.columns = rows.Columns()
	c.lastRowID = c.db.engine.LastRowID()
	if isDMLStatement(query) {
		c.rowCount = c.db.engine.Changes()
	}
	return nil
}

// FetchOne возвращает следующую строку или nil, если строк больше нет.
func (c *Cursor) FetchOne() (Row, error) {
	batch, err := c.fetchBatch(1)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	return batch[0], nil
}

// FetchMany возвращает до n следующих строк; n < 1 означает ArraySize.
func (c *Cursor) FetchMany(n int) ([]Row, error) {
	if n < 1 {
		n = c.ArraySize()
	}
	return c.fetchBatch(n)
}

// FetchAll возвращает все оставшиеся строки.
func (c *Cursor) FetchAll() ([]Row, error) {
	var all []Row
	size := c.ArraySize()
	for {
		batch, err := c.fetchBatch(size)
		all = append(all, batch...)
		if err != nil {
			return all, err
		}
		if len(batch) < size {
			return all, nil
		}
	}
}

// Fetch лениво отдаёт строки, забирая их у движка пачками по bufferSize
// (bufferSize < 1 означает ArraySize). После limit строк выдача прекращается;
// limit < 1 означает без ограничения. Последовательность не перезапускается.
func (c *Cursor) Fetch(limit, bufferSize int) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if bufferSize < 1 {
			bufferSize = c.ArraySize()
		}
		yielded := 0
		for {
			batch, err := c.fetchBatch(bufferSize)
			for _, row := range batch {
				if limit > 0 && yielded == limit {
					return
				}
				if !yield(row, nil) {
					return
				}
				yielded++
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) == 0 {
				return
			}
		}
	}
}

// Rows отдаёт строки по одной; каждый шаг забирает у движка ровно одну строку.
func (c *Cursor) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for {
			row, err := c.FetchOne()
			if err != nil {
				yield(nil, err)
				return
			}
			if row == nil || !yield(row, nil) {
				return
			}
		}
	}
}

func (c *Cursor) fetchBatch(n int) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	if c.rows == nil {
		return nil, nil
	}
	return c.rows.FetchBatch(n)
}

// Close закрывает курсор с фоновым контекстом; см. CloseContext.
func (c *Cursor) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext закрывает курсор. Если курсор не вложенный и на соединении
// открыта транзакция, она откатывается. Повторный вызов ничего не делает.
//
// Внутри области транзакции передавайте её контекст: он уже владеет
// блокировкой записи, и открытая транзакция принадлежит этой области,
// поэтому курсор её не трогает. Close с фоновым контекстом в той же
// горутине будет ждать освобождения блокировки самой областью.
func (c *Cursor) CloseContext(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}

	// вложенному курсору нечего откатывать, блокировка не нужна
	if c.nested {
		return c.discard()
	}

	ctx = c.db.lock.bind(ctx, c.holder)
	inScope := c.db.lock.Held(ctx)
	ctx = c.db.acquire(ctx)
	defer c.db.lock.Release(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.rows != nil {
		err = c.rows.Close()
		c.rows = nil
	}
	if inScope || c.db.IsClosed() || !c.db.engine.InTransaction() {
		return err
	}

	c.db.log.Warn("rolling back transaction left open by cursor")
	if rbErr := c.db.rollback(ctx); rbErr != nil {
		return errors.Join(err, rbErr)
	}
	return err
}

// discard закрывает курсор без проверки открытой транзакции.
// Используется областью транзакции, которая сама завершает транзакцию.
func (c *Cursor) discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	return err
}

// checkLocked вызывается под c.mu.
func (c *Cursor) checkLocked() error {
	if c.db.IsClosed() {
		return ErrClosed
	}
	if c.closed {
		return ErrCursorClosed
	}
	return nil
}

// resetLocked закрывает результат предыдущей инструкции.
func (c *Cursor) resetLocked() {
	if c.rows != nil {
		if err := c.rows.Close(); err != nil {
			c.db.log.Debug("failed to close previous statement", slog.String("error", err.Error()))
		}
		c.rows = nil
	}
	c.columns = nil
	c.rowCount = -1
}
