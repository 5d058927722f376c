package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxStatements is the statement ceiling used when none is configured.
const DefaultMaxStatements = 10

// Reason names the rule a rejected query violated.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonEmptyQuery        Reason = "empty_query"
	ReasonNoStatements      Reason = "no_statements"
	ReasonTooManyStatements Reason = "too_many_statements"
	ReasonUnsafeStart       Reason = "unsafe_start"
	ReasonCTEModification   Reason = "cte_modification"
	ReasonForbiddenKeyword  Reason = "forbidden_keyword"
	ReasonDelayFunction     Reason = "delay_function"
	ReasonCopyDirective     Reason = "copy_directive"
	ReasonInternalError     Reason = "internal_error"
)

// Reasons lists every rejection reason, for metrics label pre-registration.
var Reasons = []Reason{
	ReasonEmptyQuery, ReasonNoStatements, ReasonTooManyStatements, ReasonUnsafeStart,
	ReasonCTEModification, ReasonForbiddenKeyword, ReasonDelayFunction, ReasonCopyDirective,
	ReasonInternalError,
}

// Verdict is the outcome of validating a raw query.
type Verdict struct {
	Accepted  bool
	Reason    Reason
	Statement int    // index of the offending statement, -1 when not statement-specific
	Detail    string // matched keyword or pattern, for logs only
}

func (v Verdict) String() string {
	if v.Accepted {
		return "accept"
	}
	if v.Detail != "" {
		return fmt.Sprintf("reject(%s: %s)", v.Reason, v.Detail)
	}
	return fmt.Sprintf("reject(%s)", v.Reason)
}

func accept() Verdict { return Verdict{Accepted: true, Statement: -1} }

func reject(reason Reason, stmt int, detail string) Verdict {
	return Verdict{Reason: reason, Statement: stmt, Detail: detail}
}

var (
	safeStart = regexp.MustCompile(`(?is)^\s*(?:with\b.*?select\b|select\b)`)
	withStart = regexp.MustCompile(`(?i)^\s*with\b`)
	selectKw  = regexp.MustCompile(`(?i)\bselect\b`)

	cteModification = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|alter|create|drop|truncate|replace|execute|exec|call)\b`)

	forbidden = regexp.MustCompile(`(?i)\b(` +
		`insert|update|delete|merge|` +
		`create|alter|drop|truncate|` +
		`execute|exec|call|do|` +
		`grant|revoke|begin|commit|rollback|savepoint|set|reset|` +
		`vacuum|analyze|cluster|refresh\s+materialized\s+view|lock|listen|unlisten|notify|` +
		`security\s+definer|` +
		`pg_read_file|pg_ls_dir|pg_stat_file|lo_import|lo_export` +
		`)\b`)

	// RE2 has no lookahead; replace( is allowed and checked by hand.
	replaceKw = regexp.MustCompile(`(?i)\breplace\b`)

	delayCall = regexp.MustCompile(`(?i)\bpg_sleep(?:_for|_until)?\s*\(`)
	copyIO    = regexp.MustCompile(`(?is)\bcopy\b.*\b(program|stdin|stdout)\b`)
)

// Validator applies the read-only grammar to raw queries.
type Validator struct {
	MaxStatements int
}

// NewValidator creates a validator with the given statement ceiling.
// A non-positive ceiling falls back to DefaultMaxStatements.
func NewValidator(maxStatements int) *Validator {
	if maxStatements <= 0 {
		maxStatements = DefaultMaxStatements
	}
	return &Validator{MaxStatements: maxStatements}
}

// Validate classifies sql. Any internal failure yields a rejection.
func (v *Validator) Validate(sql string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = reject(ReasonInternalError, -1, fmt.Sprint(r))
		}
	}()

	if strings.TrimSpace(sql) == "" {
		return reject(ReasonEmptyQuery, -1, "")
	}

	stmts := Split(sql)
	if len(stmts) == 0 {
		return reject(ReasonNoStatements, -1, "")
	}
	if len(stmts) > v.max() {
		return reject(ReasonTooManyStatements, -1, fmt.Sprintf("%d > %d", len(stmts), v.max()))
	}

	for i, stmt := range stmts {
		if vd := checkStatement(stmt.Text); !vd.Accepted {
			vd.Statement = i
			return vd
		}
	}
	return accept()
}

// Validate classifies sql with the default statement ceiling.
func Validate(sql string) Verdict {
	return NewValidator(DefaultMaxStatements).Validate(sql)
}

func (v *Validator) max() int {
	if v == nil || v.MaxStatements <= 0 {
		return DefaultMaxStatements
	}
	return v.MaxStatements
}

func checkStatement(s string) Verdict {
	if !safeStart.MatchString(s) {
		return reject(ReasonUnsafeStart, -1, firstWord(s))
	}

	if withStart.MatchString(s) {
		prefix := s
		if loc := selectKw.FindStringIndex(s); loc != nil {
			prefix = s[:loc[0]]
		}
		if m := cteModification.FindString(prefix); m != "" {
			return reject(ReasonCTEModification, -1, strings.ToLower(m))
		}
	}

	if m := forbidden.FindString(s); m != "" {
		return reject(ReasonForbiddenKeyword, -1, strings.ToLower(m))
	}
	for _, loc := range replaceKw.FindAllStringIndex(s, -1) {
		rest := strings.TrimLeft(s[loc[1]:], " \t\r\n\f\v")
		if !strings.HasPrefix(rest, "(") {
			return reject(ReasonForbiddenKeyword, -1, "replace")
		}
	}

	if m := delayCall.FindString(s); m != "" {
		return reject(ReasonDelayFunction, -1, strings.ToLower(strings.TrimRight(m, " \t\r\n(")))
	}
	if copyIO.MatchString(s) {
		return reject(ReasonCopyDirective, -1, "copy")
	}

	return accept()
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	w := strings.ToLower(fields[0])
	if len(w) > 32 {
		w = w[:32]
	}
	return w
}
