// Package classify assigns a category label to metadata records from an
// ordered vocabulary.
package classify

import (
	"errors"
	"strings"

	"metarecon/pkg/domain"
)

// Vocabulary is the ordered list of category terms. Order matters: the first
// term that matches wins, so a name mentioning two terms gets the earlier one.
type Vocabulary struct {
	Terms            []string `yaml:"terms"`
	GenericKeywords  []string `yaml:"genericKeywords"`
	GenericCategory  string   `yaml:"genericCategory"`
	FallbackCategory string   `yaml:"fallbackCategory"`
}

// DefaultVocabulary returns the cancer types tracked by the registry.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Terms: []string{
			"Breast", "Prostate", "Lung", "Colorectal", "Kidney", "Liver", "Stomach",
			"Pancreatic", "Ovarian", "Testicular", "Bladder", "Thyroid", "Leukemia",
			"Lymphoma", "Oral", "Esophageal", "Kaposi", "Melanoma", "Cervical",
		},
		GenericKeywords:  []string{"cancer", "diagnosis", "treatment"},
		GenericCategory:  domain.DefaultUniversalCategory,
		FallbackCategory: "Other",
	}
}

// Validate rejects vocabularies without terms or fallbacks.
func (v Vocabulary) Validate() error {
	if len(v.Terms) == 0 {
		return errors.New("vocabulary has no terms")
	}
	if v.GenericCategory == "" || v.FallbackCategory == "" {
		return errors.New("vocabulary requires generic and fallback categories")
	}
	for _, t := range v.Terms {
		if strings.TrimSpace(t) == "" {
			return errors.New("vocabulary has an empty term")
		}
	}
	return nil
}

// Categories returns every label the classifier can produce, in order.
func (v Vocabulary) Categories() []string {
	out := append([]string(nil), v.Terms...)
	return append(out, v.GenericCategory, v.FallbackCategory)
}

// Options tunes matching.
type Options struct {
	// MatchParentRef also matches terms against the id referenced under ParentField.
	MatchParentRef bool
	ParentField    string
}

// Classifier is a pure function from record to category.
type Classifier struct {
	vocab   Vocabulary
	opts    Options
	terms   []string
	generic []string
}

// New prepares a classifier; lowercasing is done once here.
func New(vocab Vocabulary, opts Options) *Classifier {
	c := &Classifier{vocab: vocab, opts: opts}
	for _, t := range vocab.Terms {
		c.terms = append(c.terms, strings.ToLower(t))
	}
	for _, k := range vocab.GenericKeywords {
		c.generic = append(c.generic, strings.ToLower(k))
	}
	if c.opts.ParentField == "" {
		c.opts.ParentField = "program"
	}
	return c
}

// Vocabulary returns the vocabulary the classifier was built with.
func (c *Classifier) Vocabulary() Vocabulary { return c.vocab }

// Classify returns the first vocabulary term contained in the record's name
// (or parent reference id when enabled), the generic category when only a
// generic keyword matches, and the fallback category otherwise.
func (c *Classifier) Classify(r domain.Record) string {
	name := strings.ToLower(r.Name())
	var parent string
	if c.opts.MatchParentRef {
		if id, ok := r.Ref(c.opts.ParentField); ok {
			parent = strings.ToLower(id)
		}
	}
	for i, term := range c.terms {
		if strings.Contains(name, term) || (parent != "" && strings.Contains(parent, term)) {
			return c.vocab.Terms[i]
		}
	}
	for _, kw := range c.generic {
		if strings.Contains(name, kw) {
			return c.vocab.GenericCategory
		}
	}
	return c.vocab.FallbackCategory
}

// Func adapts the classifier to a plain function.
func (c *Classifier) Func() func(domain.Record) string { return c.Classify }

// Group partitions the collection's record positions by category.
func (c *Classifier) Group(coll domain.Collection) map[string][]int {
	out := make(map[string][]int)
	for i, r := range coll.Records {
		cat := c.Classify(r)
		out[cat] = append(out[cat], i)
	}
	return out
}
