package sqlite

import (
	"strings"
	"time"
	"unicode"
)

// Observer получает события ядра. Вызовы синхронные и должны быть быстрыми.
type Observer interface {
	// LockAcquired вызывается после каждого захвата блокировки записи.
	LockAcquired(wait time.Duration)
	// TxFinished вызывается при выходе из транзакции.
	TxFinished(mode TxLockMode, state TxState, duration time.Duration)
	// StatementExecuted вызывается после каждой инструкции, переданной движку.
	StatementExecuted(kind string, err error)
}

// NopObserver ничего не делает.
type NopObserver struct{}

func (NopObserver) LockAcquired(time.Duration)                    {}
func (NopObserver) TxFinished(TxLockMode, TxState, time.Duration) {}
func (NopObserver) StatementExecuted(string, error)               {}

// statementKind возвращает первое ключевое слово инструкции в верхнем регистре.
func statementKind(query string) string {
	query = trimSQL(query)
	end := strings.IndexFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		end = len(query)
	}
	if end == 0 {
		return "OTHER"
	}
	return strings.ToUpper(query[:end])
}
