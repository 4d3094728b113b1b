package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"metarecon/pkg/domain"
)

var (
	// ErrNothingToMerge is returned when MergeCollections receives no input.
	ErrNothingToMerge = errors.New("merge: no collections")
	// ErrKeyMismatch is returned when merged collections have different keys.
	ErrKeyMismatch = errors.New("merge: collection keys differ")
)

// MergeCollections concatenates colls in input order. Records are copied
// unchanged and no deduplication happens; run DeduplicateIDs afterwards when
// the inputs may share ids. The envelope comes from colls[authoritative].
func MergeCollections(authoritative int, colls ...domain.Collection) (domain.Collection, error) {
	if len(colls) == 0 {
		return domain.Collection{}, ErrNothingToMerge
	}
	if authoritative < 0 || authoritative >= len(colls) {
		return domain.Collection{}, fmt.Errorf("merge: authoritative index %d out of range [0,%d)", authoritative, len(colls))
	}
	key := colls[0].Key
	total := 0
	for i, c := range colls {
		if c.Key != key {
			return domain.Collection{}, fmt.Errorf("%w: input %d is %q, expected %q", ErrKeyMismatch, i, c.Key, key)
		}
		total += len(c.Records)
	}
	out := domain.Collection{Key: key, Records: make([]domain.Record, 0, total)}
	if env := colls[authoritative].Envelope; env != nil {
		out.Envelope = append([]byte(nil), env...)
	}
	for _, c := range colls {
		for _, r := range c.Records {
			out.Records = append(out.Records, r.Clone())
		}
	}
	return out, nil
}

// SplitByCategory partitions coll into one collection per category. Empty
// categories are omitted; collections come out in the given order, followed
// by any category not listed there in lexical order. Record order within a
// category is preserved.
func SplitByCategory(coll domain.Collection, category func(domain.Record) string, order []string) []domain.Collection {
	groups := make(map[string][]domain.Record)
	for _, r := range coll.Records {
		cat := category(r)
		groups[cat] = append(groups[cat], r.Clone())
	}
	var out []domain.Collection
	emit := func(cat string) {
		recs, ok := groups[cat]
		if !ok {
			return
		}
		out = append(out, domain.Collection{Key: coll.Key, Envelope: coll.Envelope, Records: recs})
		delete(groups, cat)
	}
	for _, cat := range order {
		emit(cat)
	}
	rest := make([]string, 0, len(groups))
	for cat := range groups {
		rest = append(rest, cat)
	}
	sort.Strings(rest)
	for _, cat := range rest {
		emit(cat)
	}
	return out
}

// NormalizeShortNames truncates shortName (falling back to name when it is
// empty) to limit runes and resolves collisions with -N suffixes. The first
// holder of a short name keeps it.
func NormalizeShortNames(coll domain.Collection, limit int) (domain.Collection, domain.Report) {
	rep := domain.NewReport("shortnames")
	out := coll.Clone()
	seen := make(map[string]bool, len(out.Records))
	for i := range out.Records {
		rec := &out.Records[i]
		current := rec.ShortName()
		source := current
		if strings.TrimSpace(source) == "" {
			source = rec.Name()
		}
		if source == "" {
			source = rec.ID()
		}
		candidate := truncateRunes(strings.TrimSpace(source), limit)
		base := candidate
		for n := 1; seen[candidate]; n++ {
			suffix := "-" + strconv.Itoa(n)
			candidate = truncateRunes(base, limit-utf8.RuneCountInString(suffix)) + suffix
		}
		seen[candidate] = true
		if candidate == current {
			rep.Unchanged++
			continue
		}
		if err := rec.Set("shortName", candidate); err != nil {
			rep.Errorf(domain.CodeShortName, coll.Key, rec.ID(), "%v", err)
			rep.Failed++
			continue
		}
		rep.Changed++
		rep.Infof(domain.CodeShortName, coll.Key, rec.ID(), "shortName %q -> %q", current, candidate)
	}
	return out, rep
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// FilterRecords splits coll into records for which keep returns true and the
// rest. Removing records can leave references elsewhere dangling; callers
// follow up with DetectOrphans or PruneOrphans on the referring collections.
func FilterRecords(coll domain.Collection, keep func(domain.Record) (bool, error)) (kept, removed domain.Collection, rep domain.Report) {
	rep = domain.NewReport("filter")
	kept = domain.Collection{Key: coll.Key, Envelope: coll.Envelope}
	removed = domain.Collection{Key: coll.Key, Envelope: coll.Envelope}
	for _, r := range coll.Records {
		ok, err := keep(r)
		if err != nil {
			rep.Errorf(domain.CodeMalformedDocument, coll.Key, r.ID(), "filter: %v", err)
			rep.Failed++
			kept.Records = append(kept.Records, r.Clone())
			continue
		}
		if ok {
			kept.Records = append(kept.Records, r.Clone())
			rep.Unchanged++
			continue
		}
		removed.Records = append(removed.Records, r.Clone())
		rep.Changed++
		rep.Infof(domain.CodePruned, coll.Key, r.ID(), "removed by filter")
	}
	return kept, removed, rep
}

// ApplyIDMapping replays a recorded mapping (collection -> old -> new) on
// colls: record ids of mapped collections and every reference into them are
// rewritten. It returns rewritten copies.
func ApplyIDMapping(colls []domain.Collection, schema domain.Schema, mapping map[string]map[string]string) ([]domain.Collection, domain.Report) {
	rep := domain.NewReport("remap")
	out := make([]domain.Collection, len(colls))
	for i, c := range colls {
		out[i] = c.Clone()
		ids := mapping[c.Key]
		for j := range out[i].Records {
			rec := &out[i].Records[j]
			if next, ok := ids[rec.ID()]; ok && next != rec.ID() {
				rep.Infof(domain.CodeRegenerated, c.Key, next, "id %s replaced by %s", rec.ID(), next)
				rec.SetID(next)
				rep.Changed++
			}
		}
		rep.Changed += rewriteReferences(&out[i], schema, mapping, &rep)
	}
	return out, rep
}
