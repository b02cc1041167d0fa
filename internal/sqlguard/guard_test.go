package sqlguard

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateExtractsFirstSQLBlock(t *testing.T) {
	g := New("sales")

	tests := []struct {
		name     string
		response string
		expected Query
	}{
		{
			name:     "multi-line block with trailing semicolon",
			response: "Here is the query:\n```sql\nSELECT sales_channel, SUM(revenue)\nFROM sales\nGROUP BY sales_channel;\n```\nIt groups by channel.",
			expected: "SELECT sales_channel, SUM(revenue) FROM sales GROUP BY sales_channel",
		},
		{
			name:     "upper-case tag",
			response: "```SQL\nselect * from sales\n```",
			expected: "select * from sales",
		},
		{
			name:     "only the first block is used",
			response: "```sql\nSELECT COUNT(*) FROM sales\n```\nor\n```sql\nDROP TABLE sales\n```",
			expected: "SELECT COUNT(*) FROM sales",
		},
		{
			name:     "block on one line",
			response: "```sql SELECT region FROM sales```",
			expected: "SELECT region FROM sales",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := g.Validate(tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, q)
		})
	}
}

func TestValidateWithoutSQLBlock(t *testing.T) {
	g := New("sales")

	responses := []string{
		"",
		"SELECT * FROM sales",
		"I cannot answer that question.",
		"```\nSELECT * FROM sales\n```",
		"```sqlite\nSELECT * FROM sales\n```",
		"```sql\nSELECT * FROM sales",
	}

	for _, response := range responses {
		_, err := g.Validate(response)
		assert.Equal(t, NoSqlBlockFound, KindOf(err), "response %q", response)
	}
}

func TestValidateEmptyBlock(t *testing.T) {
	g := New("sales")

	for _, response := range []string{"```sql\n```", "```sql\n  ;;  \n```"} {
		_, err := g.Validate(response)
		assert.Equal(t, EmptyQuery, KindOf(err), "response %q", response)
	}
}

func TestSanitizeNormalizesWhitespace(t *testing.T) {
	g := New("sales")

	q, err := g.Sanitize("  select *\n\n FROM \t  sales ;;")
	require.NoError(t, err)
	assert.Equal(t, Query("select * FROM sales"), q)

	q, err = g.Sanitize("SELECT region,　SUM(revenue)\r\nFROM sales\r\nGROUP BY region")
	require.NoError(t, err)
	assert.Equal(t, Query("SELECT region, SUM(revenue) FROM sales GROUP BY region"), q)
}

func TestSanitizeViolations(t *testing.T) {
	g := New("sales")

	tests := []struct {
		name   string
		sql    string
		kind   Kind
		detail string
	}{
		{"whitespace only", " \n\t ", EmptyQuery, ""},
		{"common table expression", "WITH x AS (SELECT 1) SELECT * FROM x", NotASelect, ""},
		{"delete", "DELETE FROM sales", NotASelect, ""},
		{"leading parenthesis", "(SELECT * FROM sales)", NotASelect, ""},
		{"stacked statement", "SELECT * FROM sales; DROP TABLE sales", MultipleStatements, ""},
		{"semicolon inside statement", "SELECT * FROM sales WHERE region = ';'", MultipleStatements, ""},
		{"forbidden keyword in literal", "select * from sales where category = 'drop'", ForbiddenKeyword, "DROP"},
		{"declared keyword order wins", "SELECT * FROM sales WHERE a = 'UPDATE' OR b = 'INSERT'", ForbiddenKeyword, "INSERT"},
		{"set keyword", "SELECT * FROM sales FOR UPDATE SET x", ForbiddenKeyword, "UPDATE"},
		{"copy", "SELECT 1 FROM sales UNION SELECT COPY FROM sales", ForbiddenKeyword, "COPY"},
		{"line comment", "SELECT * FROM sales -- trailing", CommentInjection, ""},
		{"block comment", "SELECT /* hidden */ * FROM sales", CommentInjection, ""},
		{"other table", "SELECT * FROM users", DisallowedTable, "users"},
		{"schema qualified", "SELECT * FROM public.sales", DisallowedTable, "public.sales"},
		{"quoted with different case", `SELECT * FROM "Sales"`, DisallowedTable, `"Sales"`},
		{"comma join", "SELECT * FROM sales s, users u", DisallowedTable, "users"},
		{"table function", "SELECT * FROM generate_series(1, 3)", DisallowedTable, "generate_series"},
		{"subquery in where", "SELECT * FROM sales WHERE region IN (SELECT region FROM regions)", DisallowedTable, "regions"},
		{"derived table", "SELECT * FROM (SELECT * FROM secrets) t", DisallowedTable, "secrets"},
		{"table statement", "SELECT * FROM sales WHERE EXISTS (TABLE users)", DisallowedTable, "users"},
		{"dollar quote hiding a quote", "SELECT $$'$$, (SELECT 1 FROM users) FROM sales", DisallowedTable, "users"},
		{"escape string hiding a from clause", "SELECT E'\\'' AS a FROM pg_user WHERE 'x' = 'x'", DisallowedTable, "pg_user"},
		{"lower case escape string hiding a join", "SELECT e'\\'' , usename FROM pg_shadow JOIN pg_authid ON true WHERE '' = ''", DisallowedTable, "pg_shadow"},
		{"missing table", "SELECT 1 FROM", DisallowedTable, ""},
		{"join other table", "SELECT * FROM sales JOIN users ON true", DisallowedJoin, "users"},
		{"left join function", "SELECT * FROM sales s LEFT JOIN pg_stat_activity() a ON true", DisallowedJoin, "pg_stat_activity"},
		{"from findings precede join findings", "SELECT * FROM sales JOIN users u ON true WHERE x IN (SELECT 1 FROM orders)", DisallowedTable, "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := g.Sanitize(tt.sql)
			require.Error(t, err)
			assert.Empty(t, q)

			var v *Violation
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.detail, v.Detail)
		})
	}
}

func TestSanitizeAcceptsAllowedShapes(t *testing.T) {
	g := New("sales")

	queries := []string{
		"SELECT sales_channel, SUM(revenue) FROM sales GROUP BY sales_channel",
		"SELECT * FROM SALES",
		`SELECT * FROM "sales"`,
		"SELECT created_at, offset_days FROM sales",
		"SELECT date_trunc('month', date) AS month, SUM(revenue) AS total_revenue FROM sales GROUP BY date_trunc('month', date) ORDER BY month",
		"SELECT EXTRACT(YEAR FROM date) AS y, SUM(revenue) FROM sales GROUP BY 1",
		"SELECT TRIM(BOTH ' ' FROM region) FROM sales",
		"SELECT * FROM sales WHERE region = 'x FROM users'",
		"SELECT $$ FROM users $$ AS note FROM sales",
		"SELECT a.region FROM sales a JOIN sales b ON a.date = b.date",
		"SELECT * FROM sales AS s, sales AS t WHERE s.units > t.units",
		"SELECT * FROM (SELECT region, SUM(units) u FROM sales GROUP BY region) t ORDER BY u DESC",
		"SELECT * FROM sales s LEFT JOIN LATERAL (SELECT 1 AS one) x ON true",
		"SELECT region IS DISTINCT FROM category FROM sales",
		"SELECT 1",
	}

	for _, sql := range queries {
		t.Run(sql, func(t *testing.T) {
			q, err := g.Sanitize(sql)
			require.NoError(t, err)
			assert.Equal(t, Query(sql), q)
		})
	}
}

// Each literal must end where PostgreSQL ends it, so the FROM clause written
// after it is always the one checked.
func TestLiteralsDoNotHideFromClause(t *testing.T) {
	g := New("sales")

	literals := []string{
		`'plain'`,
		`'it''s'`,
		`'\'`,
		`'\\'`,
		`E'\''`,
		`e'\''`,
		`E'\\'`,
		`E'\\\''`,
		`E'a''b'`,
		`E'it\'s'`,
		`E'\'' || '\'`,
		`U&'d\0061t'`,
		`u&'\0041'`,
		`N'x'`,
		`B'01'`,
		`X'ff'`,
		`$$'$$`,
		`$q$'$q$`,
		`$q$ $$ ' $q$`,
		`a$q$`,
		`a$q$ || $q$'$q$`,
		`"col"`,
		`"a""'"`,
	}

	for _, lit := range literals {
		t.Run(lit, func(t *testing.T) {
			_, err := g.Sanitize("SELECT " + lit + " AS a FROM users WHERE 'x' = 'x'")
			var v *Violation
			require.True(t, errors.As(err, &v), "expected a violation, got %v", err)
			assert.Equal(t, DisallowedTable, v.Kind)
			assert.Equal(t, "users", v.Detail)

			sql := "SELECT " + lit + " AS a FROM sales WHERE 'x' = 'x'"
			q, err := g.Sanitize(sql)
			require.NoError(t, err)
			assert.Equal(t, Query(sql), q)
		})
	}
}

func TestPrefixedLiteralsAreNotTables(t *testing.T) {
	g := New("sales")

	tests := []struct {
		sql    string
		detail string
	}{
		{`SELECT * FROM U&"sales"`, "U"},
		{`SELECT * FROM E'sales'`, "E'sales'"},
		{`SELECT * FROM sales JOIN U&"\0073ales" ON true`, "U"},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			_, err := g.Sanitize(tt.sql)
			var v *Violation
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.detail, v.Detail)
		})
	}
}

func TestValidatedQueriesSatisfyInvariants(t *testing.T) {
	g := New("sales")

	inputs := []string{
		"SELECT * FROM sales",
		"SELECT * FROM sales;",
		"SELECT * FROM sales;;;",
		"SELECT * FROM sales -- x",
		"SELECT * FROM sales/* x */",
		"SELECT * FROM sales JOIN other ON true",
		"select region\nfrom sales\n;",
		"SELECT * FROM sales WHERE note = '--'",
		"SELECT units FROM sales UNION SELECT units FROM archive",
	}

	for _, in := range inputs {
		q, err := g.Sanitize(in)
		if err != nil {
			continue
		}
		s := string(q)
		assert.NotContains(t, s, ";")
		assert.NotContains(t, s, "--")
		assert.NotContains(t, s, "/*")

		again, err := g.Sanitize(s)
		require.NoError(t, err, "re-validating %q", s)
		assert.Equal(t, q, again)
	}
}

func TestAllowedTableIsConfigurable(t *testing.T) {
	g := New("orders")
	assert.Equal(t, "orders", g.Table())

	_, err := g.Sanitize("SELECT * FROM orders")
	assert.NoError(t, err)

	_, err = g.Sanitize("SELECT * FROM sales")
	assert.Equal(t, DisallowedTable, KindOf(err))
}

func TestIsSafe(t *testing.T) {
	g := New("sales")

	ok, reason := g.IsSafe("SELECT * FROM sales")
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = g.IsSafe("SELECT * FROM users")
	assert.False(t, ok)
	assert.True(t, strings.Contains(reason, "users"))
}

func TestViolationMatching(t *testing.T) {
	_, err := New("sales").Sanitize("SELECT * FROM sales JOIN users ON true")

	assert.True(t, errors.Is(err, &Violation{Kind: DisallowedJoin}))
	assert.True(t, errors.Is(err, &Violation{Kind: DisallowedJoin, Detail: "users"}))
	assert.False(t, errors.Is(err, &Violation{Kind: DisallowedTable}))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
