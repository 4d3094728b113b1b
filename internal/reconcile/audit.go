package reconcile

import (
	"context"
	"fmt"
	"unicode/utf8"

	"metarecon/internal/index"
	"metarecon/pkg/domain"
)

// Check inspects an index and returns the issues it finds. Checks never
// modify the collections they read.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, ix *index.Index) ([]domain.Issue, error)
}

// Auditor runs registered checks in order.
type Auditor struct {
	checks []Check
}

// NewAuditor constructs an auditor with checks.
func NewAuditor(checks ...Check) *Auditor {
	return &Auditor{checks: append([]Check(nil), checks...)}
}

// Register appends a check.
func (a *Auditor) Register(c Check) { a.checks = append(a.checks, c) }

// Checks returns the registered check names.
func (a *Auditor) Checks() []string {
	names := make([]string, 0, len(a.checks))
	for _, c := range a.checks {
		names = append(names, c.Name())
	}
	return names
}

// Audit evaluates every check and aggregates the issues into one report.
// Indexed collections count as unchanged.
func (a *Auditor) Audit(ctx context.Context, ix *index.Index) (domain.Report, error) {
	rep := domain.NewReport("audit")
	for _, c := range a.checks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		issues, err := c.Evaluate(ctx, ix)
		if err != nil {
			return rep, fmt.Errorf("check %s: %w", c.Name(), err)
		}
		rep.Issues = append(rep.Issues, issues...)
	}
	rep.Unchanged = len(ix.Collections())
	return rep, nil
}

// DefaultChecks returns the standard audit: dangling references, malformed
// lists, duplicate ids, invalid ids, repeated association entries, short
// names and unresolved keys.
func DefaultChecks(policy IDPolicy, assoc AssociationSpec, shortNameLimit int) []Check {
	return []Check{
		DanglingReferenceCheck(),
		MalformedListCheck(),
		DuplicateIDCheck(),
		InvalidIDCheck(policy),
		DuplicateEntryCheck(assoc),
		ShortNameCheck(shortNameLimit),
		UnresolvedKeyCheck(),
	}
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context, ix *index.Index) ([]domain.Issue, error)
}

func (c checkFunc) Name() string { return c.name }

func (c checkFunc) Evaluate(ctx context.Context, ix *index.Index) ([]domain.Issue, error) {
	return c.fn(ctx, ix)
}

// DanglingReferenceCheck reports every reference that does not resolve.
func DanglingReferenceCheck() Check {
	return checkFunc{name: "dangling_references", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, d := range ix.Dangling() {
			issues = append(issues, domain.Issue{
				Code:       domain.CodeDanglingReference,
				Severity:   domain.SeverityWarn,
				Collection: d.Collection,
				RecordID:   d.RecordID,
				Field:      d.Field,
				Message:    d.Error(),
			})
		}
		return issues, nil
	}}
}

// MalformedListCheck reports reference fields that could not be decoded.
func MalformedListCheck() Check {
	return checkFunc{name: "malformed_lists", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, m := range ix.Malformed() {
			issues = append(issues, domain.Issue{
				Code:       domain.CodeMalformedList,
				Severity:   domain.SeverityError,
				Collection: m.Collection,
				RecordID:   m.RecordID,
				Field:      m.Key.Path(),
				Message:    m.Err.Error(),
			})
		}
		return issues, nil
	}}
}

// DuplicateIDCheck reports ids used by more than one record of a collection.
func DuplicateIDCheck() Check {
	return checkFunc{name: "duplicate_ids", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, key := range ix.Collections() {
			for _, d := range ix.Duplicates(key) {
				issues = append(issues, domain.Issue{
					Code:       domain.CodeDuplicateIdentifier,
					Severity:   domain.SeverityWarn,
					Collection: key,
					RecordID:   d.ID,
					Message:    d.Error(),
				})
			}
		}
		return issues, nil
	}}
}

// InvalidIDCheck reports ids rejected by policy.
func InvalidIDCheck(policy IDPolicy) Check {
	policy = policy.withDefaults()
	return checkFunc{name: "invalid_ids", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, key := range ix.Collections() {
			coll, _ := ix.Collection(key)
			for pos, r := range coll.Records {
				id := r.ID()
				if id != "" && policy.Valid(id) {
					continue
				}
				msg := fmt.Sprintf("record %d has invalid id %q", pos, id)
				if id == "" {
					msg = fmt.Sprintf("record %d (%s) has no id", pos, r.Name())
				}
				issues = append(issues, domain.Issue{Code: domain.CodeInvalidIdentifier, Severity: domain.SeverityWarn, Collection: key, RecordID: id, Message: msg})
			}
		}
		return issues, nil
	}}
}

// DuplicateEntryCheck reports association lists naming the same child twice.
func DuplicateEntryCheck(spec AssociationSpec) Check {
	if spec.ListField == "" {
		spec = DefaultAssociationSpec()
	}
	return checkFunc{name: "duplicate_entries", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, key := range ix.Collections() {
			coll, _ := ix.Collection(key)
			for _, r := range coll.Records {
				if !r.Has(spec.ListField) {
					continue
				}
				entries, err := r.Entries(spec.ListField)
				if err != nil {
					continue
				}
				seen := make(map[string]bool, len(entries))
				for _, e := range entries {
					id, ok := e.Ref(spec.RefField)
					if !ok {
						continue
					}
					if seen[id] {
						issues = append(issues, domain.Issue{
							Code:       domain.CodeDuplicateEntry,
							Severity:   domain.SeverityWarn,
							Collection: key,
							RecordID:   r.ID(),
							Field:      spec.ListField,
							Message:    fmt.Sprintf("%s %s listed more than once", spec.RefField, id),
						})
					}
					seen[id] = true
				}
			}
		}
		return issues, nil
	}}
}

// ShortNameCheck reports short names over limit runes or shared within a collection.
func ShortNameCheck(limit int) Check {
	return checkFunc{name: "short_names", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, key := range ix.Collections() {
			coll, _ := ix.Collection(key)
			seen := make(map[string]string)
			for _, r := range coll.Records {
				sn := r.ShortName()
				if sn == "" {
					continue
				}
				if limit > 0 && utf8.RuneCountInString(sn) > limit {
					issues = append(issues, domain.Issue{Code: domain.CodeShortName, Severity: domain.SeverityWarn, Collection: key, RecordID: r.ID(), Field: "shortName",
						Message: fmt.Sprintf("shortName %q exceeds %d characters", sn, limit)})
				}
				if first, dup := seen[sn]; dup {
					issues = append(issues, domain.Issue{Code: domain.CodeShortName, Severity: domain.SeverityWarn, Collection: key, RecordID: r.ID(), Field: "shortName",
						Message: fmt.Sprintf("shortName %q already used by %s", sn, first)})
					continue
				}
				seen[sn] = r.ID()
			}
		}
		return issues, nil
	}}
}

// UnresolvedKeyCheck notes foreign keys whose target collection was not loaded.
func UnresolvedKeyCheck() Check {
	return checkFunc{name: "unresolved_keys", fn: func(_ context.Context, ix *index.Index) ([]domain.Issue, error) {
		var issues []domain.Issue
		for _, fk := range ix.Unresolved() {
			issues = append(issues, domain.Issue{Code: domain.CodeUnresolved, Severity: domain.SeverityInfo, Collection: fk.Collection, Field: fk.Path(),
				Message: fmt.Sprintf("target collection %s not loaded; references not checked", fk.Target)})
		}
		return issues, nil
	}}
}
