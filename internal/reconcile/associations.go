package reconcile

import (
	"math"

	"metarecon/pkg/domain"
)

// AssociationSpec describes the parent's association list.
type AssociationSpec struct {
	ListField         string
	RefField          string
	Template          []domain.Attribute
	UniversalCategory string
}

// DefaultAssociationSpec targets programStageDataElements entries referencing
// data elements, with every attribute defaulting to false.
func DefaultAssociationSpec() AssociationSpec {
	return AssociationSpec{
		ListField:         domain.AssociationField,
		RefField:          domain.AssociationRef,
		Template:          domain.DefaultAssociationTemplate(),
		UniversalCategory: domain.DefaultUniversalCategory,
	}
}

// AssignResult is the outcome of AssignAssociations.
type AssignResult struct {
	Parents        domain.Collection
	ParentsChanged int
	EntriesAdded   int
	Report         domain.Report
}

// AssignAssociations links every parent to the children sharing its category
// plus every child of the universal category. Children already listed (by id)
// are skipped and new entries continue the parent's sortOrder sequence, so
// running it twice adds nothing the second time. Inputs are not modified.
func AssignAssociations(parents, children domain.Collection, category func(domain.Record) string, spec AssociationSpec) AssignResult {
	if spec.ListField == "" {
		spec = DefaultAssociationSpec()
	}
	res := AssignResult{Report: domain.NewReport("assign")}

	type child struct {
		id       string
		category string
	}
	pool := make([]child, 0, len(children.Records))
	for _, c := range children.Records {
		id := c.ID()
		if id == "" {
			res.Report.Warnf(domain.CodeInvalidIdentifier, children.Key, "", "child %q has no id and cannot be associated", c.Name())
			continue
		}
		pool = append(pool, child{id: id, category: category(c)})
	}

	out := domain.Collection{Key: parents.Key, Envelope: parents.Envelope, Records: make([]domain.Record, 0, len(parents.Records))}
	for _, p := range parents.Records {
		entries, err := p.Entries(spec.ListField)
		if err != nil {
			res.Report.Errorf(domain.CodeMalformedList, parents.Key, p.ID(), "%s: %v", spec.ListField, err)
			res.Report.Failed++
			out.Records = append(out.Records, p.Clone())
			continue
		}
		present := make(map[string]bool, len(entries))
		maxOrder := 0
		for _, e := range entries {
			if id, ok := e.Ref(spec.RefField); ok {
				present[id] = true
			}
			n, ok := e.Number(domain.SortOrderField)
			if !ok {
				continue
			}
			if n >= math.MaxInt32 {
				ref, _ := e.Ref(spec.RefField)
				res.Report.Warnf(domain.CodeSortOrderRange, parents.Key, p.ID(),
					"%s entry %s has sortOrder %v; it is ignored when numbering new entries", spec.ListField, ref, n)
				continue
			}
			if n > float64(maxOrder) {
				maxOrder = int(n)
			}
		}
		cat := category(p)
		added := 0
		for _, c := range pool {
			if c.category != cat && c.category != spec.UniversalCategory {
				continue
			}
			if present[c.id] {
				continue
			}
			maxOrder++
			entries = append(entries, domain.NewAssociation(spec.RefField, c.id, spec.Template, maxOrder))
			present[c.id] = true
			added++
		}
		rec := p.Clone()
		if added > 0 {
			if err := rec.SetEntries(spec.ListField, entries); err != nil {
				res.Report.Errorf(domain.CodeMalformedList, parents.Key, p.ID(), "%s: %v", spec.ListField, err)
				res.Report.Failed++
				out.Records = append(out.Records, p.Clone())
				continue
			}
			res.ParentsChanged++
			res.EntriesAdded += added
			res.Report.Changed++
		} else {
			res.Report.Unchanged++
		}
		out.Records = append(out.Records, rec)
	}
	res.Parents = out
	return res
}
