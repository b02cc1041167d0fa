// Package sqlguard turns untrusted language model output into a read-only query
// over a single allowed table.
//
// The guard is an allowlist check, not a SQL parser. It may reject queries that
// are harmless, which only sends the caller down its fallback path, but anything
// it accepts is a single SELECT without comments whose FROM and JOIN targets are
// the allowed table or subqueries.
package sqlguard

import (
	"regexp"
	"strings"
)

// Query is a SQL string that passed validation. Only this package produces
// values of this type from untrusted text.
type Query string

func (q Query) String() string {
	return string(q)
}

var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE",
	"ATTACH", "COPY", "EXPORT", "IMPORT", "PRAGMA", "CALL",
	"LOAD", "SET", "RESET", "EXPLAIN", "DESCRIBE", "EXEC",
}

var (
	sqlBlockPattern = regexp.MustCompile("(?is)```sql\\b\\s*(.*?)\\s*```")
	newlineRuns     = regexp.MustCompile(`[\r\n]+`)
	trailingSemis   = regexp.MustCompile(`;+$`)
	whitespaceRuns  = regexp.MustCompile(`[\s\p{Z}\x{85}]+`)

	forbiddenPatterns = compileForbidden(forbiddenKeywords)
)

type keywordPattern struct {
	keyword string
	re      *regexp.Regexp
}

func compileForbidden(keywords []string) []keywordPattern {
	patterns := make([]keywordPattern, 0, len(keywords))
	for _, kw := range keywords {
		patterns = append(patterns, keywordPattern{
			keyword: kw,
			re:      regexp.MustCompile(`\b` + kw + `\b`),
		})
	}
	return patterns
}

// Guard validates candidate queries against one allowed table
type Guard struct {
	table string
}

// New creates a guard for the given table. Unquoted references match it
// case-insensitively, quoted references must match it exactly.
func New(table string) *Guard {
	return &Guard{table: table}
}

// Table returns the allowed table name
func (g *Guard) Table() string {
	return g.table
}

// Validate extracts the first fenced sql block from a model response and
// sanitizes it.
func (g *Guard) Validate(response string) (Query, error) {
	sql, ok := ExtractSQL(response)
	if !ok {
		return "", violation(NoSqlBlockFound, "")
	}
	return g.Sanitize(sql)
}

// Sanitize normalizes a bare SQL string and checks it. Sanitizing a Query
// returned by this guard yields the same Query.
func (g *Guard) Sanitize(sql string) (Query, error) {
	clean := Normalize(sql)
	if clean == "" {
		return "", violation(EmptyQuery, "")
	}

	upper := strings.ToUpper(clean)
	if !strings.HasPrefix(upper, "SELECT") {
		return "", violation(NotASelect, "")
	}

	// ahead of the keyword scan: "SELECT * FROM sales; DROP TABLE sales" is
	// MultipleStatements, not ForbiddenKeyword DROP
	if strings.Contains(clean, ";") {
		return "", violation(MultipleStatements, "")
	}

	for _, p := range forbiddenPatterns {
		if p.re.MatchString(upper) {
			return "", violation(ForbiddenKeyword, p.keyword)
		}
	}

	if strings.Contains(clean, "--") || strings.Contains(clean, "/*") {
		return "", violation(CommentInjection, "")
	}

	if v := g.checkTables(clean); v != nil {
		return "", v
	}

	return Query(clean), nil
}

// IsSafe reports whether sql passes Sanitize, with the rejection reason otherwise
func (g *Guard) IsSafe(sql string) (bool, string) {
	if _, err := g.Sanitize(sql); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// ExtractSQL returns the body of the first ```sql fenced block in response.
func ExtractSQL(response string) (string, bool) {
	m := sqlBlockPattern.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Normalize applies the whitespace and trailing-semicolon rules used before validation
func Normalize(sql string) string {
	s := strings.TrimSpace(sql)
	s = newlineRuns.ReplaceAllString(s, " ")
	s = trailingSemis.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
