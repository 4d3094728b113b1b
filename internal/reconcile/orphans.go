// Package reconcile implements the operations that repair loaded metadata
// collections: orphan detection and pruning, association assignment,
// identifier deduplication and collection merging.
package reconcile

import (
	"fmt"

	"metarecon/internal/index"
	"metarecon/pkg/domain"
)

// OrphanReport partitions a collection by whether its records hold a
// reference that does not resolve.
type OrphanReport struct {
	Collection string
	Valid      []domain.Record
	Orphaned   []domain.Record
	Dangling   []domain.DanglingReference
}

// keysFor returns fks, or every schema key declared on collection when fks is empty.
func keysFor(ix *index.Index, collection string, fks []domain.ForeignKey) []domain.ForeignKey {
	if len(fks) > 0 {
		return fks
	}
	return ix.Schema().From(collection)
}

// DetectOrphans reports which records of collection hold dangling references
// through fks (all keys declared on the collection when fks is empty). It
// never changes its inputs.
func DetectOrphans(ix *index.Index, collection string, fks ...domain.ForeignKey) OrphanReport {
	rep := OrphanReport{Collection: collection}
	coll, ok := ix.Collection(collection)
	if !ok {
		return rep
	}
	rep.Dangling = ix.DanglingIn(collection, keysFor(ix, collection, fks)...)
	orphaned := make(map[int]bool, len(rep.Dangling))
	for _, d := range rep.Dangling {
		orphaned[d.Record] = true
	}
	for pos, r := range coll.Records {
		if orphaned[pos] {
			rep.Orphaned = append(rep.Orphaned, r)
		} else {
			rep.Valid = append(rep.Valid, r)
		}
	}
	return rep
}

// PruneOptions selects what PruneOrphans removes. Both default to false, in
// which case pruning returns an unchanged copy.
type PruneOptions struct {
	// Entries drops dangling entries from association lists.
	Entries bool
	// Records drops records that still hold a dangling reference after
	// entry pruning.
	Records bool
}

// PruneResult is the outcome of PruneOrphans.
type PruneResult struct {
	Collection     domain.Collection
	EntriesRemoved int
	RecordsRemoved []string
	Report         domain.Report
}

// PruneOrphans returns a copy of collection with dangling references removed
// as requested by opts. The indexed collection is left untouched.
func PruneOrphans(ix *index.Index, collection string, opts PruneOptions, fks ...domain.ForeignKey) (PruneResult, error) {
	res := PruneResult{Report: domain.NewReport("prune")}
	coll, ok := ix.Collection(collection)
	if !ok {
		return res, fmt.Errorf("prune: collection %s is not indexed", collection)
	}
	keys := keysFor(ix, collection, fks)
	byKey := make(map[string]domain.ForeignKey, len(keys))
	for _, fk := range keys {
		byKey[fk.Field+"->"+fk.Target] = fk
	}

	// record position -> field -> entry positions to drop
	drops := make(map[int]map[string]map[int]bool)
	for _, d := range ix.DanglingIn(collection, keys...) {
		fields := drops[d.Record]
		if fields == nil {
			fields = make(map[string]map[int]bool)
			drops[d.Record] = fields
		}
		k := d.Field + "->" + d.Target
		if fields[k] == nil {
			fields[k] = make(map[int]bool)
		}
		fields[k][d.Position] = true
	}

	out := domain.Collection{Key: coll.Key, Envelope: coll.Envelope}
	out.Records = make([]domain.Record, 0, len(coll.Records))
	for pos, r := range coll.Records {
		fields, dangling := drops[pos]
		if !dangling {
			out.Records = append(out.Records, r.Clone())
			res.Report.Unchanged++
			continue
		}
		rec := r.Clone()
		stillDangling := false
		changed := false
		for k, positions := range fields {
			fk := byKey[k]
			if !fk.List || !opts.Entries {
				stillDangling = true
				continue
			}
			n, err := fk.DropEntries(&rec, positions)
			if err != nil {
				res.Report.Errorf(domain.CodeMalformedList, collection, r.ID(), "%s: %v", fk.Path(), err)
				res.Report.Failed++
				stillDangling = true
				continue
			}
			if n > 0 {
				changed = true
				res.EntriesRemoved += n
				res.Report.Infof(domain.CodePruned, collection, r.ID(), "removed %d dangling %s entries", n, fk.Field)
			}
		}
		if stillDangling && opts.Records {
			res.RecordsRemoved = append(res.RecordsRemoved, r.ID())
			res.Report.Infof(domain.CodePruned, collection, r.ID(), "removed record with dangling references")
			res.Report.Changed++
			continue
		}
		out.Records = append(out.Records, rec)
		if changed {
			res.Report.Changed++
		} else {
			res.Report.Unchanged++
		}
	}
	res.Collection = out
	return res, nil
}
