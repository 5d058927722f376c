// Package suggest proposes near-match values for a free-text column when a
// query comparing that column to a literal returned no data.
package suggest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlexec"
)

// DefaultLimit bounds the number of options returned by a lookup.
const DefaultLimit = 100

// Comparison is a literal comparison on an allowlisted field found in SQL text.
type Comparison struct {
	Field    string // canonical allowlist entry
	Value    string
	Operator string // "=" or "ILIKE"
	Text     string // the matched source text
}

// Set is the outcome of a lookup.
type Set struct {
	Field   string   `json:"field"`
	Pattern string   `json:"pattern"`
	Options []string `json:"options"`
}

// Resolver looks up near matches in one table.
type Resolver struct {
	q      sqlexec.Querier
	table  string
	fields map[string]string // lower-case name -> canonical name
	eq     *regexp.Regexp
	ilike  *regexp.Regexp
	limit  int
	logger zerolog.Logger
}

// NewResolver builds a resolver over table for the given field allowlist.
func NewResolver(q sqlexec.Querier, table string, fields []string, limit int, logger zerolog.Logger) *Resolver {
	if limit <= 0 {
		limit = DefaultLimit
	}

	canon := make(map[string]string, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := canon[strings.ToLower(f)]; dup {
			continue
		}
		canon[strings.ToLower(f)] = f
		names = append(names, regexp.QuoteMeta(f))
	}
	// Longer names first so a prefix never shadows a longer field.
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	r := &Resolver{
		q:      q,
		table:  table,
		fields: canon,
		limit:  limit,
		logger: logger.With().Str("component", "suggest").Logger(),
	}
	if len(names) > 0 {
		alt := strings.Join(names, "|")
		r.eq = regexp.MustCompile(`(?i)\b(` + alt + `)\s*=\s*'([^']+)'`)
		r.ilike = regexp.MustCompile(`(?i)\b(` + alt + `)\s+ILIKE\s*'([^']+)'`)
	}
	return r
}

// Extract finds the first equality comparison on an allowlisted field, or
// failing that the first ILIKE comparison.
func (r *Resolver) Extract(sql string) (Comparison, bool) {
	if r.eq == nil {
		return Comparison{}, false
	}
	for _, step := range []struct {
		re *regexp.Regexp
		op string
	}{{r.eq, "="}, {r.ilike, "ILIKE"}} {
		m := step.re.FindStringSubmatch(sql)
		if m == nil {
			continue
		}
		field, ok := r.fields[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		return Comparison{Field: field, Value: m[2], Operator: step.op, Text: m[0]}, true
	}
	return Comparison{}, false
}

// LikePattern turns a literal into an ILIKE pattern. Values that already
// contain % or _ are returned unchanged; otherwise the words are joined by %
// and wrapped in %.
func LikePattern(value string) string {
	if strings.ContainsAny(value, "%_") {
		return value
	}
	return "%" + strings.Join(strings.Fields(value), "%") + "%"
}

// Suggest extracts a comparison from sql and returns the distinct field
// values matching its fuzzy pattern. It returns nil when sql has no usable
// comparison or the lookup fails.
func (r *Resolver) Suggest(ctx context.Context, sql string) *Set {
	cmp, ok := r.Extract(sql)
	if !ok {
		return nil
	}
	pattern := LikePattern(cmp.Value)

	field := pgx.Identifier{cmp.Field}.Sanitize()
	lookup := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s ILIKE $1 ORDER BY %s LIMIT $2",
		field, pgx.Identifier{r.table}.Sanitize(), field, field,
	)

	res, err := r.q.Query(ctx, lookup, pattern, r.limit)
	if err != nil {
		r.logger.Warn().Err(err).Str("field", cmp.Field).Msg("suggestion lookup failed")
		return nil
	}

	set := &Set{Field: cmp.Field, Pattern: pattern, Options: []string{}}
	for _, row := range res.Rows {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		set.Options = append(set.Options, sqlexec.FormatCell(row[0]))
	}
	return set
}

// Rewrite replaces every occurrence of the comparison's source text with an
// ILIKE against bind parameter $1. A comparison without source text leaves
// sql unchanged.
func Rewrite(sql string, cmp Comparison) string {
	if cmp.Text == "" {
		return sql
	}
	return strings.ReplaceAll(sql, cmp.Text, cmp.Field+" ILIKE $1")
}
