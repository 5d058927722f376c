package sqlexec

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ResultSet holds ordered column names and rows of nullable scalar values.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Empty reports whether the result has no rows.
func (r *ResultSet) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// Table renders the result as a header line followed by one line per row,
// cells joined by " | ". Cells never contain newlines; NULL renders empty.
func (r *ResultSet) Table() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	for _, row := range r.Rows {
		b.WriteByte('\n')
		for i, v := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(FormatCell(v))
		}
	}
	return b.String()
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// FormatCell stringifies one value for the answer prompt.
func FormatCell(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case []byte:
		s = string(x)
	case time.Time:
		s = x.Format(time.RFC3339)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil || dv == nil {
			return ""
		}
		s = fmt.Sprint(dv)
	default:
		s = fmt.Sprint(x)
	}
	return newlines.Replace(s)
}

// EmptyPredicate decides whether a result should be treated as "no data".
type EmptyPredicate func(*ResultSet) bool

// IsEffectivelyEmpty is the default predicate: no rows at all, or an
// aggregate whose first cell is numeric zero.
func IsEffectivelyEmpty(r *ResultSet) bool {
	if r.Empty() {
		return true
	}
	if len(r.Rows[0]) == 0 {
		return false
	}
	return isNumericZero(r.Rows[0][0])
}

func isNumericZero(v any) bool {
	switch x := v.(type) {
	case int:
		return x == 0
	case int8:
		return x == 0
	case int16:
		return x == 0
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint:
		return x == 0
	case uint8:
		return x == 0
	case uint16:
		return x == 0
	case uint32:
		return x == 0
	case uint64:
		return x == 0
	case float32:
		return x == 0
	case float64:
		return x == 0
	case *big.Int:
		return x != nil && x.Sign() == 0
	case pgtype.Numeric:
		if !x.Valid || x.NaN || x.InfinityModifier != pgtype.Finite {
			return false
		}
		return x.Int != nil && x.Int.Sign() == 0
	}
	return false
}
