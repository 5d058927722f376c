package sqlguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "single statement with trailing semicolon",
			sql:  "SELECT 1;",
			want: []string{"SELECT 1"},
		},
		{
			name: "semicolon inside single quotes",
			sql:  "SELECT '*/;*/' AS x;",
			want: []string{"SELECT '*/;*/' AS x"},
		},
		{
			name: "semicolon inside double-quoted identifier",
			sql:  `SELECT "a;b" FROM t; SELECT 2`,
			want: []string{`SELECT "a;b" FROM t`, "SELECT 2"},
		},
		{
			name: "empty dollar tag",
			sql:  "SELECT $$ a; b $$; SELECT 3",
			want: []string{"SELECT $$ a; b $$", "SELECT 3"},
		},
		{
			name: "named dollar tag ignores other tags inside",
			sql:  "SELECT $fn$ x; $$ ; y $fn$ AS body; SELECT 4",
			want: []string{"SELECT $fn$ x; $$ ; y $fn$ AS body", "SELECT 4"},
		},
		{
			name: "backslash escaped quote",
			sql:  `SELECT 'it\'s; fine'; SELECT 5`,
			want: []string{`SELECT 'it\'s; fine'`, "SELECT 5"},
		},
		{
			name: "doubled quote",
			sql:  "SELECT 'it''s; fine'; SELECT 6",
			want: []string{"SELECT 'it''s; fine'", "SELECT 6"},
		},
		{
			name: "empty statements dropped",
			sql:  " ; ;SELECT 1;;  ; ",
			want: []string{"SELECT 1"},
		},
		{
			name: "unterminated quote keeps trailing buffer",
			sql:  "SELECT 1; SELECT 'oops; DROP TABLE x",
			want: []string{"SELECT 1", "SELECT 'oops; DROP TABLE x"},
		},
		{
			name: "positional parameter is not a dollar tag",
			sql:  "SELECT * FROM t WHERE a = $1; SELECT 2",
			want: []string{"SELECT * FROM t WHERE a = $1", "SELECT 2"},
		},
		{
			name: "persian literal",
			sql:  "SELECT * FROM final_true WHERE country = 'امارات; متحده'",
			want: []string{"SELECT * FROM final_true WHERE country = 'امارات; متحده'"},
		},
		{
			name: "only whitespace",
			sql:  "   \n\t ",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Texts(tt.sql)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSplitOffsets(t *testing.T) {
	sql := "  SELECT 1 ;\n SELECT 'x'  "
	stmts := Split(sql)
	require.Len(t, stmts, 2)
	for _, s := range stmts {
		require.Equal(t, s.Text, sql[s.Start:s.End])
	}
}

func TestSplitIdempotent(t *testing.T) {
	inputs := []string{
		"SELECT 1; SELECT 2",
		"SELECT '*/;*/' AS x;",
		"WITH a AS (SELECT 1) SELECT * FROM a;  SELECT $t$;$t$",
		`SELECT "x;y", 'p;q' FROM t ; ; SELECT 3`,
		"SELECT 'unterminated; still one",
	}

	for _, in := range inputs {
		first := Texts(in)
		again := Texts(strings.Join(first, ";"))
		require.Equal(t, first, again, "input %q", in)
	}
}
