package templates

import (
	"strings"
	"unicode/utf8"

	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
)

// longKeywordRunes is the length above which a matched keyword scores twice
const longKeywordRunes = 3

// Resolution is the fallback query chosen for a question
type Resolution struct {
	SQL      sqlguard.Query
	Template string // empty when the default query was chosen
	Title    string
	Score    int
}

// Matched reports whether a named template was chosen
func (r Resolution) Matched() bool {
	return r.Template != ""
}

// Resolver scores questions against a registry. It never fails.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over registry
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Registry returns the registry the resolver scores against
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve picks the highest scoring template. Ties go to the template listed
// first; a best score of zero selects the default aggregate query.
func (r *Resolver) Resolve(userQuery string) Resolution {
	text := strings.ToLower(userQuery)

	best := -1
	bestScore := 0
	for i, t := range r.registry.templates {
		if s := score(t.Keywords, text); s > bestScore {
			best, bestScore = i, s
		}
	}

	if best < 0 {
		return Resolution{
			SQL:   r.registry.fallback.SQL,
			Title: r.registry.fallback.Title,
		}
	}
	t := r.registry.templates[best]
	return Resolution{
		SQL:      t.SQL,
		Template: t.Name,
		Title:    t.Title,
		Score:    bestScore,
	}
}

// Score returns the keyword score of the named template for userQuery
func (r *Resolver) Score(name, userQuery string) int {
	t, ok := r.registry.Get(name)
	if !ok {
		return 0
	}
	return score(t.Keywords, strings.ToLower(userQuery))
}

// score adds one point per keyword contained in text and a second point when
// that keyword is longer than longKeywordRunes. text must already be lower-cased.
func score(keywords []string, text string) int {
	total := 0
	for _, kw := range keywords {
		if !strings.Contains(text, strings.ToLower(kw)) {
			continue
		}
		total++
		if utf8.RuneCountInString(kw) > longKeywordRunes {
			total++
		}
	}
	return total
}
