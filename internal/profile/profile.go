// Package profile loads the registry profile: classification vocabulary,
// foreign key schema, association template and identifier rules.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"metarecon/internal/classify"
	"metarecon/internal/predicate"
	"metarecon/internal/reconcile"
	"metarecon/pkg/domain"
)

// Profile is the YAML document. Omitted sections fall back to the defaults.
type Profile struct {
	Version     int                  `yaml:"version"`
	Vocabulary  *classify.Vocabulary `yaml:"vocabulary"`
	Classify    ClassifyOptions      `yaml:"classify"`
	Schema      *domain.Schema       `yaml:"schema"`
	Association *Association         `yaml:"association"`
	IDs         IDRules              `yaml:"ids"`
	ShortNames  ShortNames           `yaml:"shortNames"`
	Filters     map[string]string    `yaml:"filters"`
}

// ClassifyOptions mirrors classify.Options.
type ClassifyOptions struct {
	MatchParentRef bool   `yaml:"matchParentRef"`
	ParentField    string `yaml:"parentField"`
}

// Association describes the parent association list. Template values are
// YAML scalars written into new entries in the listed order.
type Association struct {
	ListField         string          `yaml:"listField"`
	RefField          string          `yaml:"refField"`
	UniversalCategory string          `yaml:"universalCategory"`
	Template          []TemplateValue `yaml:"template"`
}

// TemplateValue is one attribute default.
type TemplateValue struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// IDRules configures identifier validation and deduplication scope.
type IDRules struct {
	Valid     string `yaml:"valid"`
	MaxLength int    `yaml:"maxLength"`
	Scope     string `yaml:"scope"`
}

// ShortNames configures short-name normalisation.
type ShortNames struct {
	Limit int `yaml:"limit"`
}

// DefaultShortNameLimit is the platform's short name column width.
const DefaultShortNameLimit = 50

// Resolved is a profile with defaults applied and expressions compiled.
type Resolved struct {
	Vocabulary     classify.Vocabulary
	ClassifyOpts   classify.Options
	Schema         domain.Schema
	Association    reconcile.AssociationSpec
	IDPolicy       reconcile.IDPolicy
	Scope          reconcile.Scope
	ShortNameLimit int
	filters        map[string]func(domain.Record) (bool, error)
	compiler       *predicate.Compiler
}

// Default returns the built-in cancer registry profile.
func Default() (*Resolved, error) {
	return Parse(nil)
}

// Load reads and resolves the profile at path. An empty path yields Default.
func Load(path string) (*Resolved, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return Parse(b)
}

// Parse decodes and resolves YAML profile bytes.
func Parse(b []byte) (*Resolved, error) {
	var p Profile
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		if p.Version != 1 {
			return nil, errors.New("profile: unsupported version")
		}
	}
	return p.Resolve()
}

// Resolve applies defaults, validates and compiles expressions.
func (p Profile) Resolve() (*Resolved, error) {
	compiler, err := predicate.NewCompiler()
	if err != nil {
		return nil, err
	}
	r := &Resolved{
		Vocabulary:     classify.DefaultVocabulary(),
		ClassifyOpts:   classify.Options{MatchParentRef: p.Classify.MatchParentRef, ParentField: p.Classify.ParentField},
		Schema:         domain.DefaultSchema(),
		Association:    reconcile.DefaultAssociationSpec(),
		IDPolicy:       reconcile.DefaultIDPolicy(),
		ShortNameLimit: DefaultShortNameLimit,
		filters:        make(map[string]func(domain.Record) (bool, error), len(p.Filters)),
		compiler:       compiler,
	}
	if p.Vocabulary != nil {
		if err := p.Vocabulary.Validate(); err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		r.Vocabulary = *p.Vocabulary
	}
	if p.Schema != nil {
		if err := p.Schema.Validate(); err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		r.Schema = *p.Schema
	}
	if a := p.Association; a != nil {
		if a.ListField != "" {
			r.Association.ListField = a.ListField
		}
		if a.RefField != "" {
			r.Association.RefField = a.RefField
		}
		if a.UniversalCategory != "" {
			r.Association.UniversalCategory = a.UniversalCategory
		}
		if a.Template != nil {
			tmpl, err := templateAttributes(a.Template)
			if err != nil {
				return nil, err
			}
			r.Association.Template = tmpl
		}
	}
	if p.IDs.Valid != "" {
		valid, err := compiler.ID(p.IDs.Valid)
		if err != nil {
			return nil, fmt.Errorf("profile: ids.valid: %w", err)
		}
		r.IDPolicy.Valid = valid
	}
	if p.IDs.MaxLength > 0 {
		r.IDPolicy.MaxLength = p.IDs.MaxLength
	}
	if r.Scope, err = reconcile.ParseScope(p.IDs.Scope); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if p.ShortNames.Limit > 0 {
		r.ShortNameLimit = p.ShortNames.Limit
	}
	for name, expr := range p.Filters {
		keep, err := compiler.Record(expr)
		if err != nil {
			return nil, fmt.Errorf("profile: filter %s: %w", name, err)
		}
		r.filters[name] = keep
	}
	return r, nil
}

func templateAttributes(values []TemplateValue) ([]domain.Attribute, error) {
	out := make([]domain.Attribute, 0, len(values))
	for _, v := range values {
		if v.Key == "" {
			return nil, errors.New("profile: association template entry without key")
		}
		raw, err := json.Marshal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("profile: template %s: %w", v.Key, err)
		}
		out = append(out, domain.Attribute{Key: v.Key, Value: raw})
	}
	return out, nil
}

// Classifier builds the classifier described by the profile.
func (r *Resolved) Classifier() *classify.Classifier {
	return classify.New(r.Vocabulary, r.ClassifyOpts)
}

// Filter returns a named filter from the profile, or compiles expr when no
// filter has that name.
func (r *Resolved) Filter(nameOrExpr string) (func(domain.Record) (bool, error), error) {
	if f, ok := r.filters[nameOrExpr]; ok {
		return f, nil
	}
	return r.compiler.Record(nameOrExpr)
}
