// Package sqlite предоставляет потокобезопасный доступ к одному встроенному
// соединению SQLite, общему для многих горутин.
//
// Основные возможности:
// - Реентерабельная блокировка записи, общая для всех дескрипторов одного файла
// - Курсоры: SELECT без блокировки, остальные инструкции под блокировкой
// - Области транзакций DEFERRED/IMMEDIATE/EXCLUSIVE с прозрачной вложенностью
// - Откат незавершённой транзакции при закрытии курсора
// - Интроспекция схемы, сравнение схем, дамп, резервное копирование
// - Миграции через golang-migrate
// - Тестовые хелперы
//
// # Быстрый старт
//
//	ctx := context.Background()
//	db, err := sqlite.NewDB(ctx, "app.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// # Блокировка записи и контекст
//
// В Go нет идентификатора горутины, поэтому владение блокировкой записи
// передаётся через context.Context. Контекст, который возвращает транзакция,
// владеет блокировкой: вызовы дескриптора с ним не блокируются. Передавать
// такой контекст в другие горутины нельзя.
//
// # Транзакции
//
//	err = db.ImmediateTransaction(ctx, func(ctx context.Context, cur *sqlite.Cursor) error {
//		_, err := cur.Execute(ctx, "INSERT INTO users (name) VALUES (?)", "John")
//		return err
//	})
//
// Вложенная транзакция не выполняет BEGIN/COMMIT, исход определяет внешняя:
//
//	err = db.WithinTx(ctx, func(ctx context.Context) error {
//		return db.WithinTx(ctx, func(ctx context.Context) error {
//			cur, _ := sqlite.TxCursor(ctx)
//			_, err := cur.Execute(ctx, "DELETE FROM users")
//			return err
//		})
//	})
//
// Savepoints для частичного отката:
//
//	err = db.WithinSavepoint(ctx, func(ctx context.Context) error { ... })
//
// Явная область с состояниями INACTIVE -> ENTERED -> COMMITTED | ROLLED_BACK:
//
//	tx := db.NewTx(sqlite.TxLockDeferred)
//	txCtx, cur, err := tx.Enter(ctx)
//	...
//	err = tx.Exit(bodyErr)
//
// # Курсоры
//
//	cur, err := db.Execute(ctx, "SELECT id, name FROM users")
//	if err != nil {
//		return err
//	}
//	defer cur.Close()
//	for row, err := range cur.Fetch(0, 0) {
//		...
//	}
//
// Курсор, открытый вне транзакции и закрываемый внутри неё, закрывается
// контекстом области: cur.CloseContext(txCtx).
//
// # Пользовательские функции
//
//	err = db.CreateFunction("lower_ascii", 1, true, func(args []any) (any, error) { ... })
//	err = db.CreateCollation("folded", func(a, b string) int { ... })
//	db.Interrupt() // прерывает выполняющуюся инструкцию
//
// # Режимы доступа
//
//	db, err := sqlite.NewReadOnlyDB(ctx, "app.db")
//	db, err := sqlite.NewDBWithMode(ctx, "app.db", sqlite.AccessModeReadWrite)
//
// # Миграции
//
//	err = db.Migrate(ctx, "file://migrations/sqlite")
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		testDB := sqlite.NewTestDBInMemory(t, sqlite.WithInitScript(schema))
//		testDB.Exec(t, "INSERT INTO users (name) VALUES (?)", "John")
//	}
package sqlite
