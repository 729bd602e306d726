package sqlite

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	zsqlite "zombiezen.com/go/sqlite"
)

// Row - одна строка результата. Значения: nil, int64, float64, string, []byte.
type Row []any

// Rows - курсор движка по результату одной инструкции.
type Rows interface {
	// Columns возвращает имена столбцов результата.
	Columns() []string
	// FetchBatch возвращает до n следующих строк; пустой срез означает конец.
	FetchBatch(n int) ([]Row, error)
	// Close освобождает инструкцию. Повторный вызов безопасен.
	Close() error
}

// Engine - узкий интерфейс к единственному физическому соединению.
// Реализация обязана выдерживать вызовы из разных горутин.
type Engine interface {
	Execute(ctx context.Context, query string, args []any) (Rows, error)
	ExecuteMany(ctx context.Context, query string, argSets [][]any) (int64, error)
	ExecuteScript(ctx context.Context, script string) error
	InTransaction() bool
	LastRowID() int64
	Changes() int64
	Serialize(schema string) ([]byte, error)
	Deserialize(schema string, data []byte) error
	Close() error
}

// ConnEngine реализует Engine поверх zombiezen.com/go/sqlite.
//
// Соединение SQLite открывается без собственного мьютекса (OpenNoMutex),
// поэтому каждый вызов в движок сериализуется mu. Это короткая
// нереентерабельная блокировка на время одного вызова, она не заменяет
// WriteLock и никогда не удерживается в ожидании WriteLock.
type ConnEngine struct {
	mu    sync.Mutex
	conn  *zsqlite.Conn
	trace func(string)
	open  map[*stmtRows]struct{}

	// intrMu защищает cancel отдельно от mu, чтобы Interrupt
	// не ждал выполняющуюся инструкцию
	intrMu sync.Mutex
	cancel context.CancelFunc
}

var _ Engine = (*ConnEngine)(nil)

// OpenConnEngine открывает соединение с файлом, URI или ":memory:".
func OpenConnEngine(path string, trace func(string)) (*ConnEngine, error) {
	conn, err := zsqlite.OpenConn(path,
		zsqlite.OpenReadWrite|zsqlite.OpenCreate|zsqlite.OpenURI|zsqlite.OpenNoMutex)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &ConnEngine{
		conn:  conn,
		trace: trace,
		open:  make(map[*stmtRows]struct{}),
	}, nil
}

// SetTrace устанавливает функцию, получающую текст каждой выполняемой инструкции.
// Функция вызывается под внутренней блокировкой движка и не должна обращаться к нему.
func (e *ConnEngine) SetTrace(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trace = fn
}

func (e *ConnEngine) emit(query string) {
	if e.trace != nil {
		e.trace(query)
	}
}

// Execute подготавливает одну инструкцию и сразу делает первый шаг.
// Инструкции без результата выполняются полностью; для выборок первая
// строка буферизуется, остальные читаются через FetchBatch.
func (e *ConnEngine) Execute(ctx context.Context, query string, args []any) (Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil, ErrClosed
	}
	if trimSQL(query) == "" {
		return &stmtRows{engine: e, done: true}, nil
	}
	defer e.watch(ctx)()

	stmt, err := e.prepareSingle(query)
	if err != nil {
		return nil, err
	}
	if err := bindArgs(stmt, args); err != nil {
		_ = stmt.Finalize()
		return nil, err
	}

	e.emit(query)
	rows := &stmtRows{engine: e, stmt: stmt, columns: columnNames(stmt)}
	hasRow, err := stmt.Step()
	if err != nil {
		_ = stmt.Finalize()
		return nil, err
	}
	if !hasRow {
		rows.finalizeLocked()
		return rows, nil
	}
	rows.pending = readRow(stmt)
	e.open[rows] = struct{}{}
	return rows, nil
}

// ExecuteMany выполняет одну инструкцию для каждого набора параметров
// и возвращает суммарное число изменённых строк.
func (e *ConnEngine) ExecuteMany(ctx context.Context, query string, argSets [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return 0, ErrClosed
	}
	if trimSQL(query) == "" {
		return 0, nil
	}
	defer e.watch(ctx)()

	stmt, err := e.prepareSingle(query)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Finalize() }()

	var total int64
	for _, args := range argSets {
		_ = stmt.Reset()
		if err := stmt.ClearBindings(); err != nil {
			return total, err
		}
		if err := bindArgs(stmt, args); err != nil {
			return total, err
		}
		e.emit(query)
		if err := stepAll(stmt); err != nil {
			return total, err
		}
		total += int64(e.conn.Changes())
	}
	return total, nil
}

// ExecuteScript выполняет текст из нескольких инструкций как есть,
// без собственного управления транзакцией.
func (e *ConnEngine) ExecuteScript(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return ErrClosed
	}
	defer e.watch(ctx)()

	for {
		script = trimSQL(script)
		if script == "" {
			return nil
		}
		stmt, trailing, err := e.conn.PrepareTransient(script)
		if err != nil {
			return err
		}
		consumed := len(script) - trailing
		if consumed <= 0 {
			if stmt != nil {
				_ = stmt.Finalize()
			}
			return nil
		}
		text := strings.TrimSpace(script[:consumed])
		script = script[consumed:]
		if stmt == nil {
			continue
		}

		e.emit(text)
		err = stepAll(stmt)
		ferr := stmt.Finalize()
		if err != nil {
			return err
		}
		if ferr != nil {
			return ferr
		}
	}
}

// InTransaction сообщает, открыта ли транзакция на соединении.
func (e *ConnEngine) InTransaction() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return false
	}
	return !e.conn.AutocommitEnabled()
}

// LastRowID возвращает rowid последней успешной вставки.
func (e *ConnEngine) LastRowID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return 0
	}
	return e.conn.LastInsertRowID()
}

// Changes возвращает число строк, изменённых последней инструкцией.
func (e *ConnEngine) Changes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return 0
	}
	return int64(e.conn.Changes())
}

// Serialize возвращает образ схемы schema ("main") в формате файла БД.
func (e *ConnEngine) Serialize(schema string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil, ErrClosed
	}
	return e.conn.Serialize(schema)
}

// Deserialize заменяет схему schema образом data; схема становится in-memory.
func (e *ConnEngine) Deserialize(schema string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return ErrClosed
	}
	return e.conn.Deserialize(schema, data)
}

// Close завершает незакрытые инструкции и закрывает соединение.
func (e *ConnEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	for r := range e.open {
		r.finalizeLocked()
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// prepareSingle подготавливает ровно одну инструкцию; остаток текста
// допускается только из пробелов, комментариев и точек с запятой.
func (e *ConnEngine) prepareSingle(query string) (*zsqlite.Stmt, error) {
	stmt, trailing, err := e.conn.PrepareTransient(query)
	if err != nil {
		return nil, err
	}
	if trailing > 0 && trimSQL(query[len(query)-trailing:]) != "" {
		_ = stmt.Finalize()
		return nil, ErrMultipleStatements
	}
	return stmt, nil
}

// stmtRows - курсор по подготовленной инструкции.
type stmtRows struct {
	engine  *ConnEngine
	stmt    *zsqlite.Stmt
	columns []string
	pending Row
	done    bool
}

func (r *stmtRows) Columns() []string {
	return r.columns
}

func (r *stmtRows) FetchBatch(n int) ([]Row, error) {
	if n <= 0 {
		n = 1
	}
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if r.done {
		return nil, nil
	}
	defer r.engine.watch(context.Background())()

	out := make([]Row, 0, n)
	if r.pending != nil {
		out = append(out, r.pending)
		r.pending = nil
	}
	for len(out) < n {
		hasRow, err := r.stmt.Step()
		if err != nil {
			r.finalizeLocked()
			return out, err
		}
		if !hasRow {
			r.finalizeLocked()
			break
		}
		out = append(out, readRow(r.stmt))
	}
	return out, nil
}

func (r *stmtRows) Close() error {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	return r.finalizeLocked()
}

// finalizeLocked вызывается под engine.mu.
func (r *stmtRows) finalizeLocked() error {
	r.done = true
	r.pending = nil
	delete(r.engine.open, r)
	if r.stmt == nil {
		return nil
	}
	err := r.stmt.Finalize()
	r.stmt = nil
	return err
}

func stepAll(stmt *zsqlite.Stmt) error {
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			return nil
		}
	}
}

func columnNames(stmt *zsqlite.Stmt) []string {
	n := stmt.ColumnCount()
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = stmt.ColumnName(i)
	}
	return names
}

func readRow(stmt *zsqlite.Stmt) Row {
	n := stmt.ColumnCount()
	row := make(Row, n)
	for i := 0; i < n; i++ {
		switch stmt.ColumnType(i) {
		case zsqlite.TypeInteger:
			row[i] = stmt.ColumnInt64(i)
		case zsqlite.TypeFloat:
			row[i] = stmt.ColumnFloat(i)
		case zsqlite.TypeText:
			row[i] = stmt.ColumnText(i)
		case zsqlite.TypeBlob:
			buf := make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, buf)
			row[i] = buf
		default:
			row[i] = nil
		}
	}
	return row
}

func bindArgs(stmt *zsqlite.Stmt, args []any) error {
	if n := stmt.BindParamCount(); n != len(args) {
		return fmt.Errorf("%w: the current statement uses %d, and there are %d supplied", ErrBindCount, n, len(args))
	}
	for i, arg := range args {
		param := i + 1
		switch v := arg.(type) {
		case nil:
			stmt.BindNull(param)
		case bool:
			stmt.BindBool(param, v)
		case int:
			stmt.BindInt64(param, int64(v))
		case int8:
			stmt.BindInt64(param, int64(v))
		case int16:
			stmt.BindInt64(param, int64(v))
		case int32:
			stmt.BindInt64(param, int64(v))
		case int64:
			stmt.BindInt64(param, v)
		case uint:
			if uint64(v) > math.MaxInt64 {
				return fmt.Errorf("%w: parameter %d overflows int64", ErrUnsupportedArg, param)
			}
			stmt.BindInt64(param, int64(v))
		case uint8:
			stmt.BindInt64(param, int64(v))
		case uint16:
			stmt.BindInt64(param, int64(v))
		case uint32:
			stmt.BindInt64(param, int64(v))
		case uint64:
			if v > math.MaxInt64 {
				return fmt.Errorf("%w: parameter %d overflows int64", ErrUnsupportedArg, param)
			}
			stmt.BindInt64(param, int64(v))
		case float32:
			stmt.BindFloat(param, float64(v))
		case float64:
			stmt.BindFloat(param, v)
		case string:
			stmt.BindText(param, v)
		case []byte:
			if v == nil {
				stmt.BindNull(param)
			} else {
				stmt.BindBytes(param, v)
			}
		case time.Time:
			stmt.BindText(param, v.Format(time.RFC3339Nano))
		default:
			return fmt.Errorf("%w: parameter %d has type %T", ErrUnsupportedArg, param, arg)
		}
	}
	return nil
}
