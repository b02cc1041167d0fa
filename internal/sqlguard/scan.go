package sqlguard

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // bare identifier or keyword
	tokQuoted                  // "quoted identifier", text holds the unescaped name
	tokString                  // '...' or $tag$...$tag$ literal
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) isWord(upper string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, upper)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// tokenize splits sql into the tokens the table scan needs. Literal bodies are
// kept out of the word stream, so every literal must end exactly where
// PostgreSQL ends it: a literal read too long hides the SQL after it.
// Plain strings follow standard_conforming_strings (doubled quotes only) and
// E'' strings also honour backslash escapes. The engine pins
// standard_conforming_strings on for every query it runs.
func tokenize(sql string) []token {
	var tokens []token
	wordEnd := -1
	i := 0
	for i < len(sql) {
		r, size := utf8.DecodeRuneInString(sql[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '\'':
			start, end := i, 0
			if n := len(tokens); n > 0 && wordEnd == i && strings.EqualFold(tokens[n-1].text, "E") {
				// E'...' with no gap is one escape-string literal
				tokens = tokens[:n-1]
				start--
				end = scanEscaped(sql, i)
			} else {
				end = scanQuoted(sql, i, '\'')
			}
			tokens = append(tokens, token{kind: tokString, text: sql[start:end]})
			i = end

		case r == '"':
			end := scanQuoted(sql, i, '"')
			body := sql[i+1 : end]
			body = strings.TrimSuffix(body, `"`)
			tokens = append(tokens, token{kind: tokQuoted, text: strings.ReplaceAll(body, `""`, `"`)})
			i = end

		case r == '$':
			if end, ok := scanDollarQuoted(sql, i); ok {
				tokens = append(tokens, token{kind: tokString, text: sql[i:end]})
				i = end
				continue
			}
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			tokens = append(tokens, token{kind: tokPunct, text: sql[i:j]})
			i = j

		case isIdentStart(r):
			j := i + size
			for j < len(sql) {
				r2, s2 := utf8.DecodeRuneInString(sql[j:])
				if !isIdentPart(r2) {
					break
				}
				j += s2
			}
			tokens = append(tokens, token{kind: tokWord, text: sql[i:j]})
			i = j
			wordEnd = j

		case r >= '0' && r <= '9':
			j := i + 1
			for j < len(sql) && (sql[j] == '.' || (sql[j] >= '0' && sql[j] <= '9')) {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: sql[i:j]})
			i = j

		default:
			tokens = append(tokens, token{kind: tokPunct, text: string(r)})
			i += size
		}
	}
	return tokens
}

// scanQuoted returns the index just past the closing quote, treating a doubled
// quote as an escape. An unterminated literal runs to the end of input.
func scanQuoted(s string, start int, quote byte) int {
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

// scanEscaped is scanQuoted for an E'' string, where a backslash escapes the
// byte after it.
func scanEscaped(s string, start int) int {
	i := start + 1
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
		case '\'':
			if i+1 < len(s) && s[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return len(s)
}

// scanDollarQuoted recognises $$...$$ and $tag$...$tag$ literals
func scanDollarQuoted(s string, start int) (int, bool) {
	j := start + 1
	for j < len(s) {
		r, size := utf8.DecodeRuneInString(s[j:])
		if r == '$' {
			break
		}
		if (j == start+1 && !isIdentStart(r)) || !isIdentPart(r) || r == '$' {
			return 0, false
		}
		j += size
	}
	if j >= len(s) {
		return 0, false
	}
	tag := s[start : j+1]
	if idx := strings.Index(s[j+1:], tag); idx >= 0 {
		return j + 1 + idx + len(tag), true
	}
	return len(s), true
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Functions whose argument syntax uses FROM for something other than a table
var fromTakingFunctions = map[string]bool{
	"EXTRACT":   true,
	"SUBSTRING": true,
	"TRIM":      true,
	"OVERLAY":   true,
}

// Words that end a FROM item instead of naming its alias
var clauseWords = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"OFFSET": true, "FETCH": true, "FOR": true, "WINDOW": true, "UNION": true,
	"EXCEPT": true, "INTERSECT": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "CROSS": true, "NATURAL": true, "ON": true,
	"USING": true, "TABLESAMPLE": true, "LATERAL": true, "AS": true,
}

// checkTables verifies every FROM and JOIN target. FROM findings take
// precedence over JOIN findings regardless of position.
func (g *Guard) checkTables(sql string) *Violation {
	tokens := tokenize(sql)

	var fromViolation, joinViolation *Violation
	// exprFrom[d] is true while depth d was opened by EXTRACT( and similar
	exprFrom := []bool{false}

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case t.isPunct("("):
			opener := i > 0 && tokens[i-1].kind == tokWord && fromTakingFunctions[strings.ToUpper(tokens[i-1].text)]
			exprFrom = append(exprFrom, opener)
		case t.isPunct(")"):
			if len(exprFrom) > 1 {
				exprFrom = exprFrom[:len(exprFrom)-1]
			}
		case t.isWord("SELECT"):
			exprFrom[len(exprFrom)-1] = false
		case t.isWord("FROM"):
			if exprFrom[len(exprFrom)-1] || isDistinctFrom(tokens, i) {
				continue
			}
			if fromViolation == nil {
				if name, ok := g.checkFromList(tokens, i+1); !ok {
					fromViolation = violation(DisallowedTable, name)
				}
			}
		case t.isWord("TABLE"):
			// "(TABLE name)" reads a table without a FROM keyword
			if fromViolation == nil {
				if name, _, ok := g.checkItem(tokens, i+1); !ok {
					fromViolation = violation(DisallowedTable, name)
				}
			}
		case t.isWord("JOIN"):
			if joinViolation == nil {
				if name, _, ok := g.checkItem(tokens, i+1); !ok {
					joinViolation = violation(DisallowedJoin, name)
				}
			}
		}
	}

	if fromViolation != nil {
		return fromViolation
	}
	return joinViolation
}

// isDistinctFrom reports whether tokens[i] is the FROM of IS [NOT] DISTINCT FROM
func isDistinctFrom(tokens []token, i int) bool {
	return i >= 2 && tokens[i-1].isWord("DISTINCT") &&
		(tokens[i-2].isWord("IS") || tokens[i-2].isWord("NOT"))
}

// checkFromList walks a comma-separated FROM list starting at tokens[i]
func (g *Guard) checkFromList(tokens []token, i int) (string, bool) {
	for {
		name, next, ok := g.checkItem(tokens, i)
		if !ok {
			return name, false
		}
		next = skipAlias(tokens, next)
		if next < len(tokens) && tokens[next].isPunct(",") {
			i = next + 1
			continue
		}
		return "", true
	}
}

// checkItem checks a single FROM or JOIN target at tokens[i] and returns the
// index following it. Subqueries are accepted here; their own FROM clauses are
// visited by the main scan.
func (g *Guard) checkItem(tokens []token, i int) (string, int, bool) {
	if i < len(tokens) && tokens[i].isWord("LATERAL") {
		i++
	}
	if i >= len(tokens) {
		return "", i, false
	}

	t := tokens[i]
	if t.isPunct("(") {
		return "", skipParens(tokens, i), true
	}

	var name string
	var allowed bool
	switch t.kind {
	case tokWord:
		name = t.text
		allowed = strings.EqualFold(name, g.table)
	case tokQuoted:
		name = `"` + t.text + `"`
		allowed = t.text == g.table
	default:
		return t.text, i + 1, false
	}

	next := i + 1
	if next < len(tokens) {
		switch {
		case tokens[next].isPunct("."):
			// schema-qualified names resolve outside the search path
			if next+1 < len(tokens) {
				name += "." + tokens[next+1].text
			}
			return name, next, false
		case tokens[next].isPunct("("):
			// table function
			return name, next, false
		}
	}
	return name, next, allowed
}

// skipAlias steps over "[AS] alias [(col, ...)]"
func skipAlias(tokens []token, i int) int {
	if i < len(tokens) && tokens[i].isWord("AS") {
		i++
	}
	if i < len(tokens) && (tokens[i].kind == tokQuoted || (tokens[i].kind == tokWord && !clauseWords[strings.ToUpper(tokens[i].text)])) {
		i++
		if i < len(tokens) && tokens[i].isPunct("(") {
			i = skipParens(tokens, i)
		}
	}
	return i
}

// skipParens returns the index after the parenthesis matching tokens[i]
func skipParens(tokens []token, i int) int {
	depth := 0
	for ; i < len(tokens); i++ {
		switch {
		case tokens[i].isPunct("("):
			depth++
		case tokens[i].isPunct(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}
