package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryPath - маркер in-memory базы данных.
const MemoryPath = ":memory:"

// DefaultArraySize - размер пачки строк при чтении курсором по умолчанию.
const DefaultArraySize = 100

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWriteCreate - чтение/запись с созданием файла, если его нет (по умолчанию)
	AccessModeReadWriteCreate AccessMode = "rwc"
	// AccessModeReadWrite - чтение и запись, файл обязан существовать
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - только чтение, файл обязан существовать
	AccessModeReadOnly AccessMode = "ro"
)

func (m AccessMode) valid() bool {
	switch m {
	case AccessModeReadWriteCreate, AccessModeReadWrite, AccessModeReadOnly:
		return true
	}
	return false
}

// Hook вызывается при открытии базы данных.
type Hook func(ctx context.Context, db *DB) error

// Options содержит настройки дескриптора базы данных.
type Options struct {
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode
	// BusyTimeout - сколько движок ждёт файловую блокировку перед SQLITE_BUSY
	BusyTimeout time.Duration
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// JournalMode - режим журнала; пустое значение оставляет режим движка
	JournalMode JournalMode
	// SyncMode - уровень синхронизации; пустое значение оставляет режим движка
	SyncMode SyncMode
	// TxLockMode - режим транзакций для скриптов и WithinTx
	TxLockMode TxLockMode
	// InitScript выполняется в транзакции только при создании базы
	InitScript string
	// OnCreate вызывается только при создании базы, до InitScript
	OnCreate Hook
	// OnConnect вызывается при каждом открытии
	OnConnect Hook
	// ArraySize - размер пачки строк курсора по умолчанию
	ArraySize int
	// Trace получает текст каждой инструкции, переданной движку
	Trace func(string)
	// LogStatements - писать ли инструкции в лог на уровне Debug
	LogStatements bool
	// Logger - логгер дескриптора, по умолчанию slog.Default()
	Logger *slog.Logger
	// Observer получает события блокировок, транзакций и инструкций
	Observer Observer
}

// DefaultOptions возвращает настройки по умолчанию для embedded использования.
func DefaultOptions() Options {
	return Options{
		AccessMode:  AccessModeReadWriteCreate,
		BusyTimeout: 5 * time.Second,
		ForeignKeys: true,
		TxLockMode:  TxLockDeferred,
		ArraySize:   DefaultArraySize,
	}
}

func (o Options) normalize() (Options, error) {
	if o.AccessMode == "" {
		o.AccessMode = AccessModeReadWriteCreate
	}
	if !o.AccessMode.valid() {
		return o, fmt.Errorf("%w: access mode %q", ErrInvalidOption, o.AccessMode)
	}
	if o.TxLockMode == "" {
		o.TxLockMode = TxLockDeferred
	}
	if o.TxLockMode != TxLockNone && !o.TxLockMode.valid() {
		return o, fmt.Errorf("%w: %q", ErrInvalidTxMode, o.TxLockMode)
	}
	if o.JournalMode != "" && !o.JournalMode.valid() {
		return o, fmt.Errorf("%w: journal mode %q", ErrInvalidOption, o.JournalMode)
	}
	if o.SyncMode != "" && !o.SyncMode.valid() {
		return o, fmt.Errorf("%w: sync mode %q", ErrInvalidOption, o.SyncMode)
	}
	if o.BusyTimeout < 0 {
		return o, fmt.Errorf("%w: negative busy timeout", ErrInvalidOption)
	}
	if o.ArraySize < 0 {
		return o, fmt.Errorf("%w: negative array size", ErrInvalidOption)
	}
	if o.ArraySize == 0 {
		o.ArraySize = DefaultArraySize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	return o, nil
}

// DB - дескриптор базы данных: единственное соединение движка и блокировка записи.
//
// Все методы безопасны для вызова из разных горутин. Close и Destroy
// нельзя вызывать изнутри транзакции или курсора этого же дескриптора.
type DB struct {
	opts   Options
	engine Engine
	lock   *WriteLock
	unref  func()
	log    *slog.Logger
	trace  atomic.Pointer[func(string)]

	stateMu   sync.RWMutex
	path      string
	inMemory  bool
	isNew     bool
	readOnly  bool
	closed    bool
	destroyed bool
}

// NewDB открывает базу данных с настройками по умолчанию.
func NewDB(ctx context.Context, path string) (*DB, error) {
	return Open(ctx, path, DefaultOptions())
}

// NewReadOnlyDB открывает существующую базу данных только для чтения.
func NewReadOnlyDB(ctx context.Context, path string) (*DB, error) {
	return NewDBWithMode(ctx, path, AccessModeReadOnly)
}

// NewDBWithMode открывает базу данных с указанным режимом доступа.
func NewDBWithMode(ctx context.Context, path string, mode AccessMode) (*DB, error) {
	opts := DefaultOptions()
	opts.AccessMode = mode
	return Open(ctx, path, opts)
}

// NewInMemoryDB создает in-memory базу данных.
func NewInMemoryDB(ctx context.Context) (*DB, error) {
	return Open(ctx, MemoryPath, DefaultOptions())
}

// Open открывает или создает базу данных по пути, file: URI или ":memory:".
// Пустой путь означает in-memory базу.
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	path, err = normalizePath(path)
	if err != nil {
		return nil, err
	}

	inMemory := isMemoryPath(path)
	readOnly := opts.AccessMode == AccessModeReadOnly || uriReadOnly(path)
	isNew := inMemory
	if !inMemory {
		target := filePathOf(path)
		exists := isRegularFile(target)
		if (readOnly || opts.AccessMode == AccessModeReadWrite) && !exists {
			return nil, fmt.Errorf("%w: %s", ErrMissingDatabase, target)
		}
		if !exists {
			isNew = true
			if dir := filepath.Dir(target); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}
		}
	}

	engine, err := OpenConnEngine(path, nil)
	if err != nil {
		return nil, err
	}

	db := newDB(path, engine, opts)
	db.inMemory = inMemory
	db.isNew = isNew
	db.readOnly = readOnly
	engine.SetTrace(db.traceStatement)

	if err := db.setup(ctx); err != nil {
		_ = engine.Close()
		db.unref()
		return nil, err
	}

	db.log.Info("sqlite database opened",
		slog.String("path", db.path),
		slog.Bool("new", isNew),
		slog.Bool("read_only", readOnly))
	return db, nil
}

// NewDBFromEngine оборачивает уже открытый движок. Хуки создания и
// настройки соединения не выполняются.
func NewDBFromEngine(path string, engine Engine, opts Options) (*DB, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidOption)
	}
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	path, err = normalizePath(path)
	if err != nil {
		return nil, err
	}
	db := newDB(path, engine, opts)
	db.inMemory = isMemoryPath(path)
	db.readOnly = opts.AccessMode == AccessModeReadOnly || uriReadOnly(path)
	if t, ok := engine.(interface{ SetTrace(func(string)) }); ok {
		t.SetTrace(db.traceStatement)
	}
	return db, nil
}

func newDB(path string, engine Engine, opts Options) *DB {
	key := ""
	if !isMemoryPath(path) {
		key = lockKey(path)
	}
	lock, unref := registry.acquire(key)
	db := &DB{
		opts:   opts,
		engine: engine,
		lock:   lock,
		unref:  unref,
		log:    opts.Logger.With(slog.String("component", "sqlite")),
		path:   path,
	}
	if opts.Trace != nil {
		db.SetTrace(opts.Trace)
	}
	return db
}

// setup применяет PRAGMA, выполняет хуки и скрипт инициализации.
func (db *DB) setup(ctx context.Context) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", db.opts.BusyTimeout.Milliseconds()),
	}
	if db.opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	if db.opts.JournalMode != "" && !db.readOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode = "+string(db.opts.JournalMode))
	}
	if db.opts.SyncMode != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+string(db.opts.SyncMode))
	}
	for _, pragma := range pragmas {
		cur, err := db.Execute(ctx, pragma)
		if err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
		_ = cur.CloseContext(ctx)
	}

	if db.isNew {
		if db.opts.OnCreate != nil {
			if err := db.opts.OnCreate(ctx, db); err != nil {
				return fmt.Errorf("on create hook: %w", err)
			}
		}
		if strings.TrimSpace(db.opts.InitScript) != "" {
			// скрипт инициализации всегда выполняется в транзакции
			mode := db.opts.TxLockMode
			if mode == TxLockNone {
				mode = TxLockDeferred
			}
			err := db.Transaction(ctx, mode, func(ctx context.Context, cur *Cursor) error {
				_, err := cur.ExecuteScript(ctx, db.opts.InitScript, mode)
				return err
			})
			if err != nil {
				return fmt.Errorf("init script: %w", err)
			}
		}
	}

	if db.opts.OnConnect != nil {
		if err := db.opts.OnConnect(ctx, db); err != nil {
			return fmt.Errorf("on connect hook: %w", err)
		}
	}

	if db.readOnly {
		cur, err := db.Execute(ctx, "PRAGMA query_only = 1")
		if err != nil {
			return fmt.Errorf("failed to set query_only: %w", err)
		}
		_ = cur.CloseContext(ctx)
	}
	return nil
}

// Path возвращает канонический путь, file: URI или ":memory:".
func (db *DB) Path() string {
	db.stateMu.RLock()
	defer db.stateMu.RUnlock()
	return db.path
}

// InMemory сообщает, что база данных не связана с файлом.
func (db *DB) InMemory() bool {
	db.stateMu.RLock()
	defer db.stateMu.RUnlock()
	return db.inMemory
}

// IsNew сообщает, что база данных была создана при открытии.
func (db *DB) IsNew() bool {
	db.stateMu.RLock()
	defer db.stateMu.RUnlock()
	return db.isNew
}

// ReadOnly сообщает, что соединение открыто только для чтения.
func (db *DB) ReadOnly() bool {
	db.stateMu.RLock()
	defer db.stateMu.RUnlock()
	return db.readOnly
}

// IsClosed сообщает, что дескриптор закрыт (в том числе уничтожен).
func (db *DB) IsClosed() bool {
	db.stateMu.RLock()
	defer db.stateMu.RUnlock()
	return db.closed
}

// IsDestroyed сообщает, что база данных уничтожена через этот дескриптор.
func (db *DB) IsDestroyed() bool {
	db.stateMu.RLock()
	defer db.stateMu.RUnlock()
	return db.destroyed
}

// InTransaction сообщает, открыта ли транзакция на соединении.
func (db *DB) InTransaction() bool {
	if db.IsClosed() {
		return false
	}
	return db.engine.InTransaction()
}

// Options возвращает настройки, с которыми открыт дескриптор.
func (db *DB) Options() Options {
	return db.opts
}

// WriteLock возвращает блокировку записи, общую для всех дескрипторов этого файла.
func (db *DB) WriteLock() *WriteLock {
	return db.lock
}

// SetTrace устанавливает функцию трассировки инструкций; nil отключает трассировку.
func (db *DB) SetTrace(fn func(string)) {
	if fn == nil {
		db.trace.Store(nil)
		return
	}
	db.trace.Store(&fn)
}

func (db *DB) traceStatement(query string) {
	if fn := db.trace.Load(); fn != nil {
		(*fn)(query)
	}
	if db.opts.LogStatements {
		db.log.Debug("sql statement", slog.String("query", query))
	}
}

// Copy открывает новый дескриптор той же базы с теми же настройками.
// Файловые копии разделяют блокировку записи; копия in-memory базы - новая пустая база.
func (db *DB) Copy(ctx context.Context) (*DB, error) {
	return Open(ctx, db.Path(), db.opts)
}

// Close закрывает соединение. Возвращает false, если дескриптор уже закрыт или уничтожен.
func (db *DB) Close() (bool, error) {
	ctx := db.acquire(context.Background())
	defer db.lock.Release(ctx)
	return db.closeLocked()
}

func (db *DB) closeLocked() (bool, error) {
	db.stateMu.RLock()
	done := db.closed || db.destroyed
	db.stateMu.RUnlock()
	if done {
		return false, nil
	}

	if err := db.engine.Close(); err != nil {
		return false, fmt.Errorf("failed to close sqlite database: %w", err)
	}

	db.stateMu.Lock()
	db.closed = true
	db.stateMu.Unlock()
	db.unref()

	db.log.Info("sqlite database closed", slog.String("path", db.Path()))
	return true, nil
}

// Destroy закрывает дескриптор и удаляет файл базы данных вместе с файлами журнала.
// Возвращает false, если база уже уничтожена.
func (db *DB) Destroy() (bool, error) {
	ctx := db.acquire(context.Background())
	defer db.lock.Release(ctx)

	db.stateMu.RLock()
	destroyed, closed := db.destroyed, db.closed
	db.stateMu.RUnlock()
	if destroyed {
		return false, nil
	}
	if !closed {
		if _, err := db.closeLocked(); err != nil {
			return false, err
		}
	}

	if db.InMemory() {
		db.stateMu.Lock()
		db.destroyed = true
		db.stateMu.Unlock()
		return true, nil
	}

	target := filePathOf(db.Path())
	if !isRegularFile(target) {
		return false, fmt.Errorf("%w: %s", ErrNotRegularFile, target)
	}
	if err := os.Remove(target); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", target, err)
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		if err := os.Remove(target + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			db.log.Warn("failed to remove sqlite sidecar file",
				slog.String("path", target+suffix),
				slog.String("error", err.Error()))
		}
	}

	db.stateMu.Lock()
	db.destroyed = true
	db.stateMu.Unlock()
	db.log.Info("sqlite database destroyed", slog.String("path", target))
	return true, nil
}

// Cursor создает курсор. Если ctx владеет блокировкой записи, курсор
// наследует владение и не блокируется на ней.
func (db *DB) Cursor(ctx context.Context) (*Cursor, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.newCursor(ctx), nil
}

// Execute выполняет одну инструкцию в новом курсоре.
// При ошибке курсор закрывается и не возвращается.
func (db *DB) Execute(ctx context.Context, query string, args ...any) (*Cursor, error) {
	cur, err := db.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := cur.Execute(ctx, query, args...); err != nil {
		_ = cur.CloseContext(ctx)
		return nil, err
	}
	return cur, nil
}

// ExecuteMany выполняет инструкцию для каждого набора параметров в новом курсоре.
func (db *DB) ExecuteMany(ctx context.Context, query string, argSets [][]any) (*Cursor, error) {
	cur, err := db.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := cur.ExecuteMany(ctx, query, argSets); err != nil {
		_ = cur.CloseContext(ctx)
		return nil, err
	}
	return cur, nil
}

// ExecuteScript выполняет скрипт в новом курсоре; mode управляет обрамляющей транзакцией.
func (db *DB) ExecuteScript(ctx context.Context, script string, mode TxLockMode) (*Cursor, error) {
	cur, err := db.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := cur.ExecuteScript(ctx, script, mode); err != nil {
		_ = cur.CloseContext(ctx)
		return nil, err
	}
	return cur, nil
}

func (db *DB) checkOpen() error {
	if db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// acquire захватывает блокировку записи и сообщает наблюдателю время ожидания.
func (db *DB) acquire(ctx context.Context) context.Context {
	start := time.Now()
	ctx = db.lock.Acquire(ctx)
	db.opts.Observer.LockAcquired(time.Since(start))
	return ctx
}

// rollback выполняет ROLLBACK при очистке. Отмена ctx не должна оставить
// транзакцию открытой, поэтому учитываются только значения ctx.
func (db *DB) rollback(ctx context.Context) error {
	return db.exec(context.WithoutCancel(ctx), "ROLLBACK")
}

// exec выполняет служебную инструкцию без результата.
func (db *DB) exec(ctx context.Context, query string) error {
	rows, err := db.engine.Execute(ctx, query, nil)
	db.opts.Observer.StatementExecuted(statementKind(query), err)
	if err != nil {
		return err
	}
	return rows.Close()
}

// queryRow выполняет инструкцию и возвращает первую строку результата (nil, если строк нет).
func (db *DB) queryRow(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := db.engine.Execute(ctx, query, args)
	db.opts.Observer.StatementExecuted(statementKind(query), err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	batch, err := rows.FetchBatch(1)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	return batch[0], nil
}

func isMemoryPath(path string) bool {
	if path == MemoryPath {
		return true
	}
	if !strings.HasPrefix(path, "file:") {
		return false
	}
	name, query, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	return name == MemoryPath || uriParam(query, "mode") == "memory"
}

// normalizePath приводит путь к каноническому виду: пустой путь - in-memory,
// file: URI остаётся как есть, остальные пути становятся абсолютными.
func normalizePath(path string) (string, error) {
	if path == "" || path == MemoryPath || strings.HasPrefix(path, "file:") {
		if path == "" {
			return MemoryPath, nil
		}
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidOption, path, err)
	}
	return resolveSymlinks(abs), nil
}

// resolveSymlinks раскрывает символические ссылки, в том числе для ещё
// не созданного файла (по его каталогу).
func resolveSymlinks(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs))
	}
	return abs
}

// lockKey - ключ реестра блокировок: канонический путь к файлу.
func lockKey(path string) string {
	target := filePathOf(path)
	abs, err := filepath.Abs(target)
	if err != nil {
		return target
	}
	return resolveSymlinks(abs)
}

// filePathOf извлекает путь к файлу из file: URI.
func filePathOf(path string) string {
	if !strings.HasPrefix(path, "file:") {
		return path
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	if strings.HasPrefix(name, "//") {
		// file://host/path: хост допускается только пустой или localhost
		name = strings.TrimPrefix(name, "//")
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[i:]
		}
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func uriReadOnly(path string) bool {
	if !strings.HasPrefix(path, "file:") {
		return false
	}
	_, query, _ := strings.Cut(path, "?")
	return uriParam(query, "mode") == "ro"
}

func uriParam(query, key string) string {
	values, err := url.ParseQuery(query)
	if err != nil {
		return ""
	}
	return values.Get(key)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
