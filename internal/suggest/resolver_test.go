package suggest

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlexec"
)

type fakeQuerier struct {
	sql  string
	args []any
	res  *sqlexec.ResultSet
	err  error
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (*sqlexec.ResultSet, error) {
	f.sql, f.args = sql, args
	return f.res, f.err
}

var fields = []string{"customs_name", "country", "country_name"}

func newResolver(q sqlexec.Querier) *Resolver {
	return NewResolver(q, "final_true", fields, 0, zerolog.Nop())
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"تهران", "%تهران%"},
		{"امارات متحده  عربی", "%امارات%متحده%عربی%"},
		{"  غرب تهران ", "%غرب%تهران%"},
		{"%تهران", "%تهران"},
		{"a_b", "a_b"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, LikePattern(tt.in), tt.in)
	}
}

func TestExtract(t *testing.T) {
	r := newResolver(&fakeQuerier{})

	tests := []struct {
		name  string
		sql   string
		ok    bool
		field string
		value string
		op    string
	}{
		{"equality", "SELECT * FROM final_true WHERE country = 'امارات'", true, "country", "امارات", "="},
		{"longer field wins", "SELECT 1 FROM final_true WHERE country_name='ترکیه'", true, "country_name", "ترکیه", "="},
		{"case folded to allowlist", "SELECT 1 FROM final_true WHERE CUSTOMS_NAME = 'تهران'", true, "customs_name", "تهران", "="},
		{"nested in function", "SELECT sum(dollar) FILTER (WHERE country = 'چین') FROM final_true", true, "country", "چین", "="},
		{"equality preferred over earlier ilike", "SELECT 1 FROM t WHERE customs_name ILIKE '%x%' AND country = 'y'", true, "country", "y", "="},
		{"ilike fallback", "SELECT 1 FROM t WHERE customs_name ILIKE '%بندر%'", true, "customs_name", "%بندر%", "ILIKE"},
		{"qualified column", "SELECT 1 FROM final_true f WHERE f.country = 'عراق'", true, "country", "عراق", "="},
		{"other field ignored", "SELECT 1 FROM t WHERE hs_code = '1234'", false, "", "", ""},
		{"suffix is not a field", "SELECT 1 FROM t WHERE mycountry = 'x'", false, "", "", ""},
		{"not equal ignored", "SELECT 1 FROM t WHERE country != 'x'", false, "", "", ""},
		{"no comparison", "SELECT count(*) FROM final_true", false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, ok := r.Extract(tt.sql)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, tt.field, cmp.Field)
			require.Equal(t, tt.value, cmp.Value)
			require.Equal(t, tt.op, cmp.Operator)
			require.Contains(t, tt.sql, cmp.Text)
		})
	}
}

func TestSuggestBindsPattern(t *testing.T) {
	q := &fakeQuerier{res: &sqlexec.ResultSet{
		Columns: []string{"country"},
		Rows:    [][]any{{"امارات متحده عربی"}, {nil}},
	}}
	r := newResolver(q)

	set := r.Suggest(context.Background(), "SELECT * FROM final_true WHERE country = 'امارات'")
	require.NotNil(t, set)
	require.Equal(t, "country", set.Field)
	require.Equal(t, "%امارات%", set.Pattern)
	require.Equal(t, []string{"امارات متحده عربی"}, set.Options)

	require.Equal(t, `SELECT DISTINCT "country" FROM "final_true" WHERE "country" ILIKE $1 ORDER BY "country" LIMIT $2`, q.sql)
	require.NotContains(t, q.sql, "امارات")
	require.Equal(t, []any{"%امارات%", DefaultLimit}, q.args)
}

func TestSuggestNil(t *testing.T) {
	q := &fakeQuerier{err: errors.New("connection refused")}
	r := newResolver(q)

	require.Nil(t, r.Suggest(context.Background(), "SELECT * FROM final_true WHERE country = 'x'"))
	require.Nil(t, r.Suggest(context.Background(), "SELECT 1"))

	empty := NewResolver(q, "final_true", nil, 5, zerolog.Nop())
	require.Nil(t, empty.Suggest(context.Background(), "SELECT * FROM final_true WHERE country = 'x'"))
}

func TestSuggestEmptyOptions(t *testing.T) {
	q := &fakeQuerier{res: &sqlexec.ResultSet{Columns: []string{"country"}}}
	set := newResolver(q).Suggest(context.Background(), "SELECT * FROM final_true WHERE country = 'zz'")
	require.NotNil(t, set)
	require.Empty(t, set.Options)
}

func TestRewrite(t *testing.T) {
	sql := "SELECT sum(dollar) FROM final_true WHERE country = 'امارات' UNION ALL SELECT 0 FROM final_true WHERE country = 'امارات'"
	cmp := Comparison{Field: "country", Value: "امارات", Operator: "=", Text: "country = 'امارات'"}

	got := Rewrite(sql, cmp)
	require.Equal(t,
		"SELECT sum(dollar) FROM final_true WHERE country ILIKE $1 UNION ALL SELECT 0 FROM final_true WHERE country ILIKE $1",
		got)
	require.NotContains(t, got, "امارات")
}

func TestRewriteWithoutComparison(t *testing.T) {
	sql := "SELECT * FROM final_true WHERE xcountry = 'a'"
	require.Equal(t, sql, Rewrite(sql, Comparison{}))
}
