package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementClassification(t *testing.T) {
	tests := []struct {
		query string
		read  bool
		dml   bool
		kind  string
	}{
		{query: "SELECT * FROM galaxy", read: true, kind: "SELECT"},
		{query: "  select 1", read: true, kind: "SELECT"},
		{query: "INSERT INTO galaxy VALUES (?, ?)", dml: true, kind: "INSERT"},
		{query: "update galaxy SET size = 1", dml: true, kind: "UPDATE"},
		{query: "DELETE FROM galaxy", dml: true, kind: "DELETE"},
		{query: "REPLACE INTO galaxy VALUES (?, ?)", dml: true, kind: "REPLACE"},
		{query: "CREATE TABLE t (x)", kind: "CREATE"},
		{query: "DROP TABLE t", kind: "DROP"},
		{query: "PRAGMA foreign_keys", kind: "PRAGMA"},
		{query: "WITH x AS (SELECT 1) SELECT * FROM x", kind: "WITH"},
		{query: "-- comment\nBEGIN", kind: "BEGIN"},
		// ведущий комментарий отправляет выборку под блокировку
		{query: "/* report */ SELECT 1", kind: "SELECT"},
		{query: "", kind: "OTHER"},
		{query: "SEL", kind: "SEL"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.read, isReadStatement(tt.query))
			assert.Equal(t, tt.dml, isDMLStatement(tt.query))
			assert.Equal(t, tt.kind, statementKind(tt.query))
		})
	}
}

func TestTrimSQL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "", want: ""},
		{in: "  \n\t", want: ""},
		{in: ";;; SELECT 1", want: "SELECT 1"},
		{in: "-- only a comment", want: ""},
		{in: "-- first\n-- second\nSELECT 1", want: "SELECT 1"},
		{in: "/* block */ SELECT 1", want: "SELECT 1"},
		{in: "/* unterminated", want: ""},
		{in: "SELECT 1; -- tail", want: "SELECT 1; -- tail"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, trimSQL(tt.in), "input %q", tt.in)
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"galaxy"`, quoteIdent("galaxy"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
	assert.Equal(t, `'Milky Way'`, quoteLiteral("Milky Way"))
	assert.Equal(t, `'it''s'`, quoteLiteral("it's"))
}
