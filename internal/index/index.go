// Package index builds identifier lookups and reference graphs over loaded
// metadata collections.
package index

import (
	"sort"

	"metarecon/pkg/domain"
)

// MalformedList records a reference-bearing field that could not be read.
type MalformedList struct {
	Collection string
	RecordID   string
	Record     int
	Key        domain.ForeignKey
	Err        error
}

// Index is an immutable view over a set of collections. It is built once and
// answers id lookups, duplicate detection and reference queries without
// touching the records it was built from.
type Index struct {
	schema      domain.Schema
	order       []string
	collections map[string]domain.Collection
	byID        map[string]map[string]int
	duplicates  map[string]map[string][]int
	children    map[string]map[string][]string
	references  map[string]map[string][]string
	dangling    []domain.DanglingReference
	unresolved  []domain.ForeignKey
	malformed   []MalformedList
}

// Build indexes colls against schema. Collections sharing a key are indexed
// as one concatenated collection. Foreign keys whose target collection is not
// among colls are listed by Unresolved and not judged.
func Build(schema domain.Schema, colls ...domain.Collection) *Index {
	ix := &Index{
		schema:      schema,
		collections: make(map[string]domain.Collection, len(colls)),
		byID:        make(map[string]map[string]int, len(colls)),
		duplicates:  make(map[string]map[string][]int),
		children:    make(map[string]map[string][]string),
		references:  make(map[string]map[string][]string),
	}
	for _, c := range colls {
		if existing, ok := ix.collections[c.Key]; ok {
			existing.Records = append(existing.Records[:len(existing.Records):len(existing.Records)], c.Records...)
			ix.collections[c.Key] = existing
			continue
		}
		ix.order = append(ix.order, c.Key)
		ix.collections[c.Key] = c
	}
	for _, key := range ix.order {
		ix.indexIDs(ix.collections[key])
	}
	for _, fk := range schema.Keys {
		if _, ok := ix.collections[fk.Collection]; !ok {
			continue
		}
		if _, ok := ix.collections[fk.Target]; !ok {
			ix.unresolved = append(ix.unresolved, fk)
			continue
		}
		ix.indexKey(fk)
	}
	return ix
}

func (ix *Index) indexIDs(c domain.Collection) {
	ids := make(map[string]int, len(c.Records))
	for pos, r := range c.Records {
		id := r.ID()
		if id == "" {
			continue
		}
		if first, seen := ids[id]; seen {
			dups := ix.duplicates[c.Key]
			if dups == nil {
				dups = make(map[string][]int)
				ix.duplicates[c.Key] = dups
			}
			if len(dups[id]) == 0 {
				dups[id] = []int{first}
			}
			dups[id] = append(dups[id], pos)
			continue
		}
		ids[id] = pos
	}
	ix.byID[c.Key] = ids
}

func (ix *Index) indexKey(fk domain.ForeignKey) {
	targets := ix.byID[fk.Target]
	parents := make(map[string][]string)
	refs := ix.references[fk.Collection]
	if refs == nil {
		refs = make(map[string][]string)
		ix.references[fk.Collection] = refs
	}
	for pos, r := range ix.collections[fk.Collection].Records {
		found, err := fk.Refs(r)
		if err != nil {
			ix.malformed = append(ix.malformed, MalformedList{Collection: fk.Collection, RecordID: r.ID(), Record: pos, Key: fk, Err: err})
			continue
		}
		for _, ref := range found {
			if rid := r.ID(); rid != "" {
				refs[rid] = append(refs[rid], ref.ID)
				parents[ref.ID] = append(parents[ref.ID], rid)
			}
			if _, ok := targets[ref.ID]; ok {
				continue
			}
			ix.dangling = append(ix.dangling, domain.DanglingReference{
				Collection: fk.Collection,
				RecordID:   r.ID(),
				Record:     pos,
				Field:      fk.Field,
				Position:   ref.Position,
				Target:     fk.Target,
				MissingID:  ref.ID,
			})
		}
	}
	ix.children[fk.String()] = parents
}

// Schema returns the schema the index was built with.
func (ix *Index) Schema() domain.Schema { return ix.schema }

// Collections returns the indexed collection keys in input order.
func (ix *Index) Collections() []string { return append([]string(nil), ix.order...) }

// Collection returns the indexed collection.
func (ix *Index) Collection(key string) (domain.Collection, bool) {
	c, ok := ix.collections[key]
	return c, ok
}

// Has reports whether id exists in collection.
func (ix *Index) Has(collection, id string) bool {
	_, ok := ix.byID[collection][id]
	return ok
}

// Lookup returns the first record with id in collection.
func (ix *Index) Lookup(collection, id string) (domain.Record, bool) {
	pos, ok := ix.byID[collection][id]
	if !ok {
		return domain.Record{}, false
	}
	return ix.collections[collection].Records[pos], true
}

// IDs returns every distinct id of collection.
func (ix *Index) IDs(collection string) map[string]struct{} {
	out := make(map[string]struct{}, len(ix.byID[collection]))
	for id := range ix.byID[collection] {
		out[id] = struct{}{}
	}
	return out
}

// Duplicates lists ids used by more than one record, ordered by first position.
func (ix *Index) Duplicates(collection string) []domain.DuplicateIdentifierError {
	dups := ix.duplicates[collection]
	out := make([]domain.DuplicateIdentifierError, 0, len(dups))
	for id, positions := range dups {
		out = append(out, domain.DuplicateIdentifierError{Collection: collection, ID: id, Positions: append([]int(nil), positions...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Positions[0] < out[j].Positions[0] })
	return out
}

// Children returns the ids of records whose fk references parentID.
func (ix *Index) Children(fk domain.ForeignKey, parentID string) []string {
	return append([]string(nil), ix.children[fk.String()][parentID]...)
}

// References returns every id the record refers to across all indexed keys.
func (ix *Index) References(collection, recordID string) []string {
	return append([]string(nil), ix.references[collection][recordID]...)
}

// Dangling returns every unresolved reference, grouped by foreign key in
// schema order and by record position within a key.
func (ix *Index) Dangling() []domain.DanglingReference {
	return append([]domain.DanglingReference(nil), ix.dangling...)
}

// DanglingIn filters Dangling to the given collection and, when fks is not
// empty, to those keys.
func (ix *Index) DanglingIn(collection string, fks ...domain.ForeignKey) []domain.DanglingReference {
	var out []domain.DanglingReference
	for _, d := range ix.dangling {
		if d.Collection != collection {
			continue
		}
		if len(fks) > 0 && !matchesAny(d, fks) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func matchesAny(d domain.DanglingReference, fks []domain.ForeignKey) bool {
	for _, fk := range fks {
		if fk.Collection == d.Collection && fk.Field == d.Field && fk.Target == d.Target {
			return true
		}
	}
	return false
}

// Unresolved lists foreign keys that could not be judged because their
// target collection was not indexed.
func (ix *Index) Unresolved() []domain.ForeignKey {
	return append([]domain.ForeignKey(nil), ix.unresolved...)
}

// Malformed lists reference fields that could not be decoded.
func (ix *Index) Malformed() []MalformedList {
	return append([]MalformedList(nil), ix.malformed...)
}
