// Package templates holds the canned fallback queries and picks one for a question.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/KENTA-CMC/learning-program/internal/errors"
	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
)

//go:embed templates.yaml
var builtinTemplates []byte

const tablePlaceholder = "{table}"

// Template is a named, pre-validated query with the keywords that select it
type Template struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Keywords    []string       `json:"keywords"`
	SQL         sqlguard.Query `json:"sql"`
}

type templateSpec struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	SQL         string   `yaml:"sql"`
}

type registryFile struct {
	Default   templateSpec   `yaml:"default"`
	Templates []templateSpec `yaml:"templates"`
}

// Registry is the immutable, ordered set of templates plus the default query.
// It is safe for concurrent use.
type Registry struct {
	templates []Template
	byName    map[string]int
	fallback  Template
}

// Load parses a registry document and validates every query with guard
func Load(guard *sqlguard.Guard, data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("no templates defined")
	}

	fallback, err := compile(guard, file.Default, "default")
	if err != nil {
		return nil, err
	}

	r := &Registry{
		templates: make([]Template, 0, len(file.Templates)),
		byName:    make(map[string]int, len(file.Templates)),
		fallback:  fallback,
	}
	for i, spec := range file.Templates {
		if spec.Name == "" {
			return nil, fmt.Errorf("template %d has no name", i)
		}
		if _, dup := r.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate template name %q", spec.Name)
		}
		t, err := compile(guard, spec, spec.Name)
		if err != nil {
			return nil, err
		}
		r.byName[t.Name] = len(r.templates)
		r.templates = append(r.templates, t)
	}
	return r, nil
}

func compile(guard *sqlguard.Guard, spec templateSpec, name string) (Template, error) {
	sql := strings.ReplaceAll(spec.SQL, tablePlaceholder, guard.Table())
	q, err := guard.Sanitize(sql)
	if err != nil {
		return Template{}, apperrors.NewTemplateLoadError(err, name)
	}
	keywords := make([]string, 0, len(spec.Keywords))
	for _, kw := range spec.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return Template{
		Name:        spec.Name,
		Title:       spec.Title,
		Description: spec.Description,
		Keywords:    keywords,
		SQL:         q,
	}, nil
}

// LoadFile loads a registry from path, or the built-in registry when path is empty
func LoadFile(guard *sqlguard.Guard, path string) (*Registry, error) {
	if path == "" {
		return Load(guard, builtinTemplates)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file %s: %w", path, err)
	}
	return Load(guard, data)
}

// Builtin loads the templates shipped with the binary and panics if they are
// invalid for guard's table.
func Builtin(guard *sqlguard.Guard) *Registry {
	r, err := Load(guard, builtinTemplates)
	if err != nil {
		panic(fmt.Sprintf("built-in templates: %v", err))
	}
	return r
}

// Templates returns the templates in registry order
func (r *Registry) Templates() []Template {
	out := make([]Template, len(r.templates))
	copy(out, r.templates)
	return out
}

// Get returns the template with the given name
func (r *Registry) Get(name string) (Template, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Template{}, false
	}
	return r.templates[i], true
}

// SQLByName returns the named template's query, or the default query for an unknown name
func (r *Registry) SQLByName(name string) sqlguard.Query {
	if t, ok := r.Get(name); ok {
		return t.SQL
	}
	return r.fallback.SQL
}

// Default returns the aggregate query used when no template matches
func (r *Registry) Default() Template {
	return r.fallback
}

// Descriptions maps template names to their descriptions
func (r *Registry) Descriptions() map[string]string {
	out := make(map[string]string, len(r.templates))
	for _, t := range r.templates {
		out[t.Name] = t.Description
	}
	return out
}
