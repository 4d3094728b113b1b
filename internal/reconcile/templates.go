package reconcile

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"metarecon/pkg/domain"
)

// ErrTemplateNotFound is returned when the template id is not in the collection.
var ErrTemplateNotFound = errors.New("clone: template record not found")

// CategorySeparator joins the category and the template's label in clone names.
const CategorySeparator = " - "

// Cloned is one record created from a template.
type Cloned struct {
	Category string `json:"category"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

// CloneResult is the outcome of CloneForCategories.
type CloneResult struct {
	Collection domain.Collection
	Created    []Cloned
	Report     domain.Report
}

// labelFields are prefixed with the category on every clone.
var labelFields = []string{"name", "shortName", "formName"}

// CloneForCategories appends one deep copy of the template record per
// category, named "<Category> - <template name>" with a fresh id drawn from
// policy. Categories whose clone name is already taken are skipped, so
// running it twice adds nothing. Creation timestamps are dropped so the sink
// assigns its own. The input collection is not modified.
func CloneForCategories(coll domain.Collection, templateID string, categories []string, policy IDPolicy, r *rand.Rand) (CloneResult, error) {
	res := CloneResult{Report: domain.NewReport("clone")}
	if r == nil {
		return res, ErrNoRandom
	}
	tmpl, ok := coll.Find(templateID)
	if !ok {
		return res, fmt.Errorf("%w: %s in %s", ErrTemplateNotFound, templateID, coll.Key)
	}
	base := tmpl.Name()
	if base == "" {
		return res, fmt.Errorf("clone: template %s has no name", templateID)
	}
	policy = policy.withDefaults()

	out := coll.Clone()
	names := make(map[string]bool, out.Len())
	taken := make(map[string]bool, out.Len())
	for _, rec := range out.Records {
		names[rec.Name()] = true
		if id := rec.ID(); id != "" {
			taken[id] = true
		}
	}

	for _, cat := range categories {
		if cat == "" {
			continue
		}
		prefix := cat + CategorySeparator
		name := prefix + base
		if names[name] {
			res.Report.Unchanged++
			res.Report.Infof(domain.CodeCloned, coll.Key, "", "%q already exists", name)
			continue
		}
		id, err := generateUnique(policy, r, taken)
		if err != nil {
			return res, fmt.Errorf("clone %s for %s: %w", templateID, cat, err)
		}
		clone := tmpl.Clone()
		clone.SetID(id)
		for _, field := range labelFields {
			label := tmpl.String(field)
			if label == "" {
				label = base
			}
			if err := clone.Set(field, prefix+label); err != nil {
				return res, fmt.Errorf("clone %s: set %s: %w", templateID, field, err)
			}
		}
		clone.Delete("created")
		clone.Delete("lastUpdated")

		out.Records = append(out.Records, clone)
		names[name] = true
		taken[id] = true
		res.Created = append(res.Created, Cloned{Category: cat, ID: id, Name: name})
		res.Report.Changed++
		res.Report.Infof(domain.CodeCloned, coll.Key, id, "cloned %s as %q", templateID, name)
	}
	res.Collection = out
	return res, nil
}
