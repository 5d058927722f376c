// Package sqlguard classifies oracle-generated SQL as a harmless read or not.
//
// The checks are a syntactic allowlist/denylist applied per top-level
// statement. They are a defense-in-depth layer in front of a read-only
// transaction, not a SQL parser: anything the patterns cannot vouch for is
// rejected.
package sqlguard

import (
	"regexp"
	"strings"
	"unicode"
)

// Statement is one top-level statement of a raw query. Start and End are
// byte offsets of the trimmed statement text within the raw query.
type Statement struct {
	Text  string
	Start int
	End   int
}

var dollarTag = regexp.MustCompile(`^\$[A-Za-z0-9_]*\$`)

// Split divides sql into top-level statements on semicolons that are not
// inside a single-quoted string, a double-quoted identifier or a
// dollar-quoted block. Empty statements are dropped. An unterminated quote
// does not lose input: the trailing buffer becomes the last statement.
func Split(sql string) []Statement {
	var (
		stmts    []Statement
		start    int
		inSingle bool
		inDouble bool
		inDollar bool
		tag      string
		bodyFrom int // first byte after the opening dollar tag
		escape   bool
	)

	emit := func(from, to int) {
		if s, ok := trimmed(sql, from, to); ok {
			stmts = append(stmts, s)
		}
	}

	for i := 0; i < len(sql); {
		ch := sql[i]
		switch {
		case inSingle || inDouble:
			quote := byte('\'')
			if inDouble {
				quote = '"'
			}
			if ch == quote && !escape {
				inSingle, inDouble = false, false
			}
			escape = ch == '\\' && !escape
			i++

		case inDollar:
			if ch == '$' && i+1-len(tag) >= bodyFrom && sql[i+1-len(tag):i+1] == tag {
				inDollar = false
				tag = ""
			}
			i++

		case ch == '\'':
			inSingle = true
			escape = false
			i++

		case ch == '"':
			inDouble = true
			escape = false
			i++

		case ch == '$':
			if m := dollarTag.FindString(sql[i:]); m != "" {
				inDollar = true
				tag = m
				i += len(m)
				bodyFrom = i
				continue
			}
			i++

		case ch == ';':
			emit(start, i)
			i++
			start = i

		default:
			i++
		}
	}
	emit(start, len(sql))

	return stmts
}

// Texts returns the statement texts of sql in order.
func Texts(sql string) []string {
	stmts := Split(sql)
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.Text
	}
	return out
}

func trimmed(sql string, from, to int) (Statement, bool) {
	seg := sql[from:to]
	left := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
	seg = strings.TrimSpace(seg)
	if seg == "" {
		return Statement{}, false
	}
	return Statement{Text: seg, Start: from + left, End: from + left + len(seg)}, true
}
