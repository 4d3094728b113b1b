package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"metarecon/internal/index"
	"metarecon/internal/ledger"
	"metarecon/internal/reconcile"
	"metarecon/pkg/domain"
)

// AuditResult lists the collections an audit indexed.
type AuditResult struct {
	Result
	Collections []string `json:"collections"`
}

// Audit indexes every collection of keys (all stored documents when keys is
// empty) and runs the default checks. A malformed document is reported and
// the remaining documents are still audited.
func (s *Service) Audit(ctx context.Context, keys []string) (AuditResult, error) {
	var out AuditResult
	res, err := s.execute(ctx, "audit", func(ctx context.Context, tx *session) error {
		if len(keys) == 0 {
			listed, err := s.docs.List(ctx, "")
			if err != nil {
				return err
			}
			keys = listed
		}
		var colls []domain.Collection
		for _, key := range keys {
			cs, err := tx.all(ctx, key)
			if errors.Is(err, domain.ErrMalformedDocument) {
				tx.report.Errorf(domain.CodeMalformedDocument, "", "", "%v", err)
				tx.report.Failed++
				continue
			}
			if err != nil {
				return err
			}
			colls = append(colls, cs...)
		}
		ix := index.Build(s.profile.Schema, colls...)
		p := s.profile
		rep, err := reconcile.NewAuditor(reconcile.DefaultChecks(p.IDPolicy, p.Association, p.ShortNameLimit)...).Audit(ctx, ix)
		if err != nil {
			return err
		}
		tx.report.Merge(rep)
		out.Collections = ix.Collections()
		return nil
	})
	out.Result = res
	return out, err
}

// Category is one classifier bucket.
type Category struct {
	Name string   `json:"name"`
	IDs  []string `json:"ids"`
}

// ClassifyResult lists non-empty categories in vocabulary order.
type ClassifyResult struct {
	Result
	Categories []Category `json:"categories"`
}

// Classify buckets the records of ref by category. Nothing is written.
func (s *Service) Classify(ctx context.Context, ref Ref) (ClassifyResult, error) {
	var out ClassifyResult
	res, err := s.execute(ctx, "classify", func(ctx context.Context, tx *session) error {
		_, coll, err := tx.collection(ctx, ref)
		if err != nil {
			return err
		}
		c := s.profile.Classifier()
		groups := c.Group(coll)
		for _, name := range c.Vocabulary().Categories() {
			positions, ok := groups[name]
			if !ok {
				continue
			}
			cat := Category{Name: name, IDs: make([]string, 0, len(positions))}
			for _, pos := range positions {
				cat.IDs = append(cat.IDs, coll.Records[pos].ID())
			}
			out.Categories = append(out.Categories, cat)
		}
		tx.report.Unchanged = coll.Len()
		return nil
	})
	out.Result = res
	return out, err
}

// OrphansRequest selects the collection to inspect and the documents whose
// collections resolve its references.
type OrphansRequest struct {
	Target     Ref
	References []string
	Prune      reconcile.PruneOptions
}

// OrphansResult carries detection and, when requested, pruning results.
type OrphansResult struct {
	Result
	Valid          int      `json:"valid"`
	Orphaned       []string `json:"orphaned"`
	EntriesRemoved int      `json:"entriesRemoved"`
	RecordsRemoved []string `json:"recordsRemoved,omitempty"`
}

// Orphans reports records of the target holding dangling references. With
// pruning enabled the cleaned collection is written back.
func (s *Service) Orphans(ctx context.Context, req OrphansRequest) (OrphansResult, error) {
	var out OrphansResult
	res, err := s.execute(ctx, "orphans", func(ctx context.Context, tx *session) error {
		_, target, err := tx.collection(ctx, req.Target)
		if err != nil {
			return err
		}
		colls, err := tx.all(ctx, req.Target.Key)
		if err != nil {
			return err
		}
		seen := map[string]bool{req.Target.Key: true}
		for _, key := range req.References {
			if seen[key] {
				continue
			}
			seen[key] = true
			cs, err := tx.all(ctx, key)
			if err != nil {
				return err
			}
			colls = append(colls, cs...)
		}
		ix := index.Build(s.profile.Schema, colls...)
		for _, fk := range ix.Unresolved() {
			if fk.Collection == target.Key {
				tx.report.Warnf(domain.CodeUnresolved, fk.Collection, "", "%s not judged: %s not loaded", fk.Path(), fk.Target)
			}
		}

		det := reconcile.DetectOrphans(ix, target.Key)
		out.Valid = len(det.Valid)
		for _, r := range det.Orphaned {
			out.Orphaned = append(out.Orphaned, r.ID())
		}
		for _, d := range det.Dangling {
			tx.report.Warnf(domain.CodeDanglingReference, d.Collection, d.RecordID, "%v", d)
		}
		if !req.Prune.Entries && !req.Prune.Records {
			tx.report.Unchanged = target.Len()
			return nil
		}
		pr, err := reconcile.PruneOrphans(ix, target.Key, req.Prune)
		if err != nil {
			return err
		}
		tx.report.Merge(pr.Report)
		out.EntriesRemoved = pr.EntriesRemoved
		out.RecordsRemoved = pr.RecordsRemoved
		if pr.Report.Changed == 0 {
			return nil
		}
		return tx.put(req.Target.Key, pr.Collection)
	})
	out.Result = res
	return out, err
}

// AssignRequest names the parent and child collections.
type AssignRequest struct {
	Parents  Ref
	Children Ref
}

// AssignResult summarises an association run.
type AssignResult struct {
	Result
	ParentsChanged int `json:"parentsChanged"`
	EntriesAdded   int `json:"entriesAdded"`
}

// Assign adds the missing association entries to every parent, matching
// children by category. Running it again adds nothing.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (AssignResult, error) {
	var out AssignResult
	res, err := s.execute(ctx, "assign", func(ctx context.Context, tx *session) error {
		_, parents, err := tx.collection(ctx, req.Parents)
		if err != nil {
			return err
		}
		_, children, err := tx.collection(ctx, req.Children)
		if err != nil {
			return err
		}
		ar := reconcile.AssignAssociations(parents, children, s.profile.Classifier().Func(), s.profile.Association)
		tx.report.Merge(ar.Report)
		out.ParentsChanged = ar.ParentsChanged
		out.EntriesAdded = ar.EntriesAdded
		if ar.ParentsChanged == 0 {
			return nil
		}
		return tx.put(req.Parents.Key, ar.Parents)
	})
	out.Result = res
	return out, err
}

// DedupeRequest lists the collections whose ids are rewritten and the
// collections that only have their references fixed.
type DedupeRequest struct {
	Targets []Ref
	Others  []Ref
}

// DedupeResult carries the recorded id changes.
type DedupeResult struct {
	Result
	Changes           []ledger.IDChange `json:"changes"`
	ReferencesUpdated int               `json:"referencesUpdated"`
}

// Dedupe regenerates invalid ids, suffixes duplicates and propagates the
// regenerated ids to references. The mapping is kept in the run ledger so
// Remap can replay it on other documents.
func (s *Service) Dedupe(ctx context.Context, req DedupeRequest) (DedupeResult, error) {
	var out DedupeResult
	res, err := s.execute(ctx, "dedupe", func(ctx context.Context, tx *session) error {
		if len(req.Targets) == 0 {
			return errors.New("dedupe: no target collections")
		}
		load := func(refs []Ref) ([]domain.Collection, []Ref, error) {
			colls := make([]domain.Collection, 0, len(refs))
			resolved := make([]Ref, 0, len(refs))
			for _, ref := range refs {
				_, c, err := tx.collection(ctx, ref)
				if err != nil {
					return nil, nil, err
				}
				colls = append(colls, c)
				resolved = append(resolved, Ref{Key: ref.Key, Collection: c.Key})
			}
			return colls, resolved, nil
		}
		targets, targetRefs, err := load(req.Targets)
		if err != nil {
			return err
		}
		others, otherRefs, err := load(req.Others)
		if err != nil {
			return err
		}
		dr, err := reconcile.DeduplicateIDs(targets, others, reconcile.DedupOptions{
			Policy: s.profile.IDPolicy,
			Scope:  s.profile.Scope,
			Rand:   s.rand,
			Schema: s.profile.Schema,
		})
		if err != nil {
			return err
		}
		tx.report.Merge(dr.Report)
		out.ReferencesUpdated = dr.ReferencesUpdated
		for _, c := range dr.Changes {
			out.Changes = append(out.Changes, ledger.IDChange{
				Collection: c.Collection,
				Document:   documentOf(targetRefs, dr.Targets, c),
				Position:   c.Position,
				OldID:      c.OldID,
				NewID:      c.NewID,
				Reason:     c.Reason,
			})
		}
		tx.changes = out.Changes
		if len(dr.Mapping) > 0 {
			tx.mapping = dr.Mapping
		}
		if len(dr.Changes) == 0 {
			return nil
		}
		for i, c := range dr.Targets {
			if err := tx.put(targetRefs[i].Key, c); err != nil {
				return err
			}
		}
		if dr.ReferencesUpdated == 0 {
			return nil
		}
		for i, c := range dr.Others {
			if err := tx.put(otherRefs[i].Key, c); err != nil {
				return err
			}
		}
		return nil
	})
	out.Result = res
	return out, err
}

// documentOf finds the document holding the record a change rewrote.
func documentOf(refs []Ref, colls []domain.Collection, c reconcile.IDChange) string {
	for i, coll := range colls {
		if coll.Key != c.Collection || c.Position >= coll.Len() {
			continue
		}
		if coll.Records[c.Position].ID() == c.NewID {
			return refs[i].Key
		}
	}
	return ""
}

// RemapRequest names the documents to rewrite and the dedupe runs whose
// mappings are replayed; all recorded dedupe runs when RunIDs is empty.
type RemapRequest struct {
	Keys   []string
	RunIDs []uuid.UUID
}

// Remap replays recorded id mappings on every collection of the documents.
func (s *Service) Remap(ctx context.Context, req RemapRequest) (Result, error) {
	return s.execute(ctx, "remap", func(ctx context.Context, tx *session) error {
		if s.runs == nil {
			return errors.New("remap: run ledger not configured")
		}
		var runs []ledger.Run
		if len(req.RunIDs) == 0 {
			listed, err := s.runs.List(ctx, ledger.ListOptions{Operation: "dedupe"})
			if err != nil {
				return err
			}
			runs = listed
		} else {
			for _, id := range req.RunIDs {
				run, err := s.runs.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("run %s: %w", id, err)
				}
				runs = append(runs, run)
			}
			runs = ledger.ListOptions{}.Apply(runs)
		}
		mapping := ledger.Mapping(runs...)
		if len(mapping) == 0 {
			tx.report.Warnf(domain.CodeRegenerated, "", "", "no recorded id mapping to replay")
			return nil
		}
		for _, key := range req.Keys {
			colls, err := tx.all(ctx, key)
			if err != nil {
				return err
			}
			rewritten, rep := reconcile.ApplyIDMapping(colls, s.profile.Schema, mapping)
			tx.report.Merge(rep)
			if rep.Changed == 0 {
				tx.report.Unchanged += len(colls)
				continue
			}
			for _, c := range rewritten {
				if err := tx.put(key, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
