package sqlguard

import (
	"errors"
	"fmt"
)

// Kind classifies why a candidate query was rejected
type Kind string

const (
	NoSqlBlockFound    Kind = "NoSqlBlockFound"
	EmptyQuery         Kind = "EmptyQuery"
	NotASelect         Kind = "NotASelect"
	ForbiddenKeyword   Kind = "ForbiddenKeyword"
	MultipleStatements Kind = "MultipleStatements"
	CommentInjection   Kind = "CommentInjection"
	DisallowedTable    Kind = "DisallowedTable"
	DisallowedJoin     Kind = "DisallowedJoin"
)

// Violation is the error returned for every rejected candidate.
// Detail carries the offending keyword or table name where one exists.
type Violation struct {
	Kind   Kind
	Detail string
}

func (v *Violation) Error() string {
	switch v.Kind {
	case NoSqlBlockFound:
		return "no fenced sql block found in response"
	case EmptyQuery:
		return "query is empty"
	case NotASelect:
		return "only SELECT statements are allowed"
	case ForbiddenKeyword:
		return fmt.Sprintf("forbidden keyword: %s", v.Detail)
	case MultipleStatements:
		return "multiple statements are not allowed"
	case CommentInjection:
		return "sql comments are not allowed"
	case DisallowedTable:
		return fmt.Sprintf("access to table %q is not allowed", v.Detail)
	case DisallowedJoin:
		return fmt.Sprintf("join with table %q is not allowed", v.Detail)
	default:
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	}
}

// Is matches another *Violation of the same kind, so errors.Is(err, &Violation{Kind: k}) works
func (v *Violation) Is(target error) bool {
	t, ok := target.(*Violation)
	return ok && t.Kind == v.Kind && (t.Detail == "" || t.Detail == v.Detail)
}

// KindOf returns the violation kind carried by err, or "" when err is not a Violation
func KindOf(err error) Kind {
	var v *Violation
	if errors.As(err, &v) {
		return v.Kind
	}
	return ""
}

func violation(kind Kind, detail string) *Violation {
	return &Violation{Kind: kind, Detail: detail}
}
