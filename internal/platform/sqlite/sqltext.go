package sqlite

import (
	"strings"
	"unicode"
)

// isStatement проверяет, начинается ли инструкция с ключевого слова
// (без учёта регистра, после удаления ведущих пробелов).
func isStatement(keyword, query string) bool {
	query = strings.TrimLeftFunc(query, unicode.IsSpace)
	if len(query) < len(keyword) {
		return false
	}
	return strings.EqualFold(query[:len(keyword)], keyword)
}

// isReadStatement - инструкции, которые выполняются без блокировки записи.
func isReadStatement(query string) bool {
	return isStatement("SELECT", query)
}

// isDMLStatement - инструкции, для которых rowcount равен числу изменённых строк.
func isDMLStatement(query string) bool {
	for _, kw := range []string{"INSERT", "UPDATE", "DELETE", "REPLACE"} {
		if isStatement(kw, query) {
			return true
		}
	}
	return false
}

// trimSQL убирает ведущие пробелы, комментарии и пустые инструкции.
func trimSQL(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, ";"):
			s = s[1:]
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}
			s = s[i+4:]
		default:
			return s
		}
	}
}

// quoteIdent заключает идентификатор в двойные кавычки.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral заключает строку в одинарные кавычки для подстановки в SQL.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
