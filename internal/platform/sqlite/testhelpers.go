package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

// TestDB представляет тестовую SQLite базу данных с удобными хелперами.
type TestDB struct {
	DB   *DB
	Path string // Путь к файлу БД (":memory:" для in-memory)
}

// NewTestDBInMemory создает in-memory SQLite БД для тестов.
// БД автоматически закрывается после завершения теста.
func NewTestDBInMemory(t testing.TB, opts ...func(*Options)) *TestDB {
	t.Helper()

	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	db, err := Open(context.Background(), MemoryPath, o)
	if err != nil {
		t.Fatalf("Failed to create in-memory test DB: %v", err)
	}

	t.Cleanup(func() {
		_, _ = db.Close()
	})
	return &TestDB{DB: db, Path: MemoryPath}
}

// NewTestDBFile создает файловую SQLite БД во временном каталоге теста.
// БД автоматически закрывается после завершения теста, каталог удаляет testing.
func NewTestDBFile(t testing.TB, opts ...func(*Options)) *TestDB {
	t.Helper()

	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), path, o)
	if err != nil {
		t.Fatalf("Failed to create file test DB: %v", err)
	}

	t.Cleanup(func() {
		_, _ = db.Close()
	})
	return &TestDB{DB: db, Path: db.Path()}
}

// WithInitScript - опция тестовой БД со скриптом инициализации.
func WithInitScript(script string) func(*Options) {
	return func(o *Options) { o.InitScript = script }
}

// ApplyTestMigrations применяет миграции к тестовой БД.
func (tdb *TestDB) ApplyTestMigrations(t testing.TB, migrationsPath string) {
	t.Helper()

	if err := tdb.DB.Migrate(context.Background(), migrationsPath); err != nil {
		t.Fatalf("Failed to apply test migrations: %v", err)
	}
}

// Exec выполняет SQL команду и возвращает число изменённых строк.
func (tdb *TestDB) Exec(t testing.TB, query string, args ...any) int64 {
	t.Helper()

	cur, err := tdb.DB.Execute(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	defer func() { _ = cur.Close() }()
	return cur.RowCount()
}

// Query выполняет SQL запрос и возвращает все строки.
func (tdb *TestDB) Query(t testing.TB, query string, args ...any) []Row {
	t.Helper()

	rows, err := tdb.DB.queryAll(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	return rows
}

// MustSeedData выполняет скрипт с тестовыми данными в одной транзакции.
func (tdb *TestDB) MustSeedData(t testing.TB, script string) {
	t.Helper()

	cur, err := tdb.DB.ExecuteScript(context.Background(), script, TxLockDeferred)
	if err != nil {
		t.Fatalf("Failed to seed data: %v", err)
	}
	_ = cur.Close()
}

// CountRows возвращает количество строк в таблице.
func (tdb *TestDB) CountRows(t testing.TB, tableName string) int64 {
	t.Helper()

	rows := tdb.Query(t, "SELECT COUNT(*) FROM "+quoteIdent(tableName))
	return asInt64(rows[0][0])
}

// TableExists проверяет существование таблицы.
func (tdb *TestDB) TableExists(t testing.TB, tableName string) bool {
	t.Helper()

	rows := tdb.Query(t, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName)
	return asInt64(rows[0][0]) > 0
}

// TraceRecorder собирает трассировку инструкций дескриптора.
type TraceRecorder struct {
	mu      sync.Mutex
	queries []string
}

// RecordTrace подключает к db новый TraceRecorder.
func RecordTrace(db *DB) *TraceRecorder {
	r := &TraceRecorder{}
	db.SetTrace(r.record)
	return r
}

func (r *TraceRecorder) record(query string) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
}

// Queries возвращает копию собранных инструкций.
func (r *TraceRecorder) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

// Reset очищает собранные инструкции.
func (r *TraceRecorder) Reset() {
	r.mu.Lock()
	r.queries = nil
	r.mu.Unlock()
}
