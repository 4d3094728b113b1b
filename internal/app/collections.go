package app

import (
	"context"
	"errors"
	"fmt"
	"path"

	"metarecon/internal/index"
	"metarecon/internal/reconcile"
	"metarecon/pkg/domain"
)

// MergeRequest concatenates Inputs into Output. The envelope and the other
// top-level fields come from Inputs[Authoritative].
type MergeRequest struct {
	Inputs        []Ref
	Authoritative int
	Output        string
}

// MergeResult reports the merged size.
type MergeResult struct {
	Result
	Records int `json:"records"`
}

// Merge concatenates collections in input order. Ids shared between inputs
// are reported, not removed; run Dedupe on the output to resolve them.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	var out MergeResult
	res, err := s.execute(ctx, "merge", func(ctx context.Context, tx *session) error {
		if req.Output == "" {
			return errors.New("merge: output key required")
		}
		if len(req.Inputs) == 0 {
			return reconcile.ErrNothingToMerge
		}
		colls := make([]domain.Collection, 0, len(req.Inputs))
		for _, ref := range req.Inputs {
			_, c, err := tx.collection(ctx, ref)
			if err != nil {
				return err
			}
			colls = append(colls, c)
		}
		merged, err := reconcile.MergeCollections(req.Authoritative, colls...)
		if err != nil {
			return err
		}
		base, err := tx.load(ctx, req.Inputs[req.Authoritative].Key)
		if err != nil {
			return err
		}
		// Start from a copy so the authoritative input is not rewritten when
		// it is a different key.
		raw, err := base.Encode()
		if err != nil {
			return err
		}
		doc, err := domain.ParseDocument(raw)
		if err != nil {
			return err
		}
		tx.docs[req.Output] = doc
		if err := tx.put(req.Output, merged); err != nil {
			return err
		}
		for _, dup := range index.Build(s.profile.Schema, merged).Duplicates(merged.Key) {
			tx.report.Warnf(domain.CodeDuplicateIdentifier, merged.Key, dup.ID, "%v", dup)
		}
		out.Records = merged.Len()
		tx.report.Changed = merged.Len()
		return nil
	})
	out.Result = res
	return out, err
}

// SplitRequest writes one document per category under OutputDir.
type SplitRequest struct {
	Source    Ref
	OutputDir string
}

// SplitPart is one written category document.
type SplitPart struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Records  int    `json:"records"`
}

// SplitResult lists the parts in vocabulary order.
type SplitResult struct {
	Result
	Parts []SplitPart `json:"parts"`
}

// Split partitions a collection by category, one "<dir>/<Category>.json"
// document per non-empty category, each keeping the source envelope.
func (s *Service) Split(ctx context.Context, req SplitRequest) (SplitResult, error) {
	var out SplitResult
	res, err := s.execute(ctx, "split", func(ctx context.Context, tx *session) error {
		_, coll, err := tx.collection(ctx, req.Source)
		if err != nil {
			return err
		}
		c := s.profile.Classifier()
		parts := reconcile.SplitByCategory(coll, c.Func(), c.Vocabulary().Categories())
		for _, part := range parts {
			if part.Len() == 0 {
				continue
			}
			cat := c.Classify(part.Records[0])
			key := path.Join(req.OutputDir, cat+".json")
			if err := tx.put(key, part); err != nil {
				return err
			}
			out.Parts = append(out.Parts, SplitPart{Category: cat, Key: key, Records: part.Len()})
			tx.report.Changed++
		}
		return nil
	})
	out.Result = res
	return out, err
}

// CloneRequest clones the Template record of Source once per category.
type CloneRequest struct {
	Source   Ref
	Template string
	// Categories defaults to the vocabulary's site terms other than the
	// template's own category.
	Categories []string
}

// CloneResult lists the created records.
type CloneResult struct {
	Result
	Created []reconcile.Cloned `json:"created"`
}

// Clone creates per-category copies of a template record with fresh ids.
func (s *Service) Clone(ctx context.Context, req CloneRequest) (CloneResult, error) {
	var out CloneResult
	res, err := s.execute(ctx, "clone", func(ctx context.Context, tx *session) error {
		if req.Template == "" {
			return errors.New("clone: template id required")
		}
		_, coll, err := tx.collection(ctx, req.Source)
		if err != nil {
			return err
		}
		categories := req.Categories
		if len(categories) == 0 {
			tmpl, ok := coll.Find(req.Template)
			if !ok {
				return fmt.Errorf("%w: %s in %s", reconcile.ErrTemplateNotFound, req.Template, coll.Key)
			}
			c := s.profile.Classifier()
			own := c.Classify(tmpl)
			for _, term := range c.Vocabulary().Terms {
				if term != own {
					categories = append(categories, term)
				}
			}
		}
		cr, err := reconcile.CloneForCategories(coll, req.Template, categories, s.profile.IDPolicy, s.rand)
		if err != nil {
			return err
		}
		tx.report.Merge(cr.Report)
		out.Created = cr.Created
		if len(cr.Created) == 0 {
			return nil
		}
		return tx.put(req.Source.Key, cr.Collection)
	})
	out.Result = res
	return out, err
}

// ShortNames truncates and de-duplicates the short names of ref using the
// profile's limit.
func (s *Service) ShortNames(ctx context.Context, ref Ref) (Result, error) {
	return s.execute(ctx, "shortnames", func(ctx context.Context, tx *session) error {
		_, coll, err := tx.collection(ctx, ref)
		if err != nil {
			return err
		}
		normalized, rep := reconcile.NormalizeShortNames(coll, s.profile.ShortNameLimit)
		tx.report.Merge(rep)
		if rep.Changed == 0 {
			return nil
		}
		return tx.put(ref.Key, normalized)
	})
}

// FilterRequest removes the records of Source rejected by Predicate, a named
// profile filter or a CEL expression over the record.
type FilterRequest struct {
	Source    Ref
	Predicate string
	// Cascade prunes dangling list entries left in the document's other
	// collections.
	Cascade bool
	// RemovedTo, when set, receives the removed records.
	RemovedTo string
}

// FilterResult lists the removed ids.
type FilterResult struct {
	Result
	Kept    int      `json:"kept"`
	Removed []string `json:"removed"`
}

// Filter keeps the records matching the predicate.
func (s *Service) Filter(ctx context.Context, req FilterRequest) (FilterResult, error) {
	var out FilterResult
	res, err := s.execute(ctx, "filter", func(ctx context.Context, tx *session) error {
		keep, err := s.profile.Filter(req.Predicate)
		if err != nil {
			return err
		}
		_, coll, err := tx.collection(ctx, req.Source)
		if err != nil {
			return err
		}
		kept, removed, rep := reconcile.FilterRecords(coll, keep)
		tx.report.Merge(rep)
		out.Kept = kept.Len()
		out.Removed = removed.IDs()
		if removed.Len() == 0 {
			return nil
		}
		if err := tx.put(req.Source.Key, kept); err != nil {
			return err
		}
		if req.RemovedTo != "" {
			if err := tx.put(req.RemovedTo, removed); err != nil {
				return err
			}
		}
		if !req.Cascade {
			return nil
		}
		return s.cascade(ctx, tx, req.Source.Key, kept.Key)
	})
	out.Result = res
	return out, err
}

// cascade drops list entries of key's other collections that point into the
// filtered collection and no longer resolve.
func (s *Service) cascade(ctx context.Context, tx *session, key, filtered string) error {
	colls, err := tx.all(ctx, key)
	if err != nil {
		return err
	}
	ix := index.Build(s.profile.Schema, colls...)
	for _, fk := range s.profile.Schema.Into(filtered) {
		if !fk.List || fk.Collection == filtered {
			continue
		}
		if _, ok := ix.Collection(fk.Collection); !ok {
			continue
		}
		pr, err := reconcile.PruneOrphans(ix, fk.Collection, reconcile.PruneOptions{Entries: true}, fk)
		if err != nil {
			return err
		}
		if pr.EntriesRemoved == 0 {
			continue
		}
		for _, i := range pr.Report.Issues {
			tx.report.Add(i)
		}
		tx.report.Changed += pr.Report.Changed
		if err := tx.put(key, pr.Collection); err != nil {
			return err
		}
		ix = index.Build(s.profile.Schema, replace(colls, pr.Collection)...)
	}
	return nil
}

func replace(colls []domain.Collection, c domain.Collection) []domain.Collection {
	for i := range colls {
		if colls[i].Key == c.Key {
			colls[i] = c
		}
	}
	return colls
}
