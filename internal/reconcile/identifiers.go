package reconcile

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"

	"metarecon/pkg/domain"
)

const (
	letters      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphanumeric = letters + "0123456789"
	idLength     = 11
	suffixLength = 4
	maxAttempts  = 64
)

// IDPolicy decides which identifiers are acceptable and how new ones are made.
type IDPolicy struct {
	Valid     func(string) bool
	Generate  func(*rand.Rand) string
	MaxLength int
}

// DefaultIDPolicy accepts 11 characters, a leading letter and alphanumerics.
func DefaultIDPolicy() IDPolicy {
	return IDPolicy{Valid: ValidID, Generate: GenerateID, MaxLength: idLength}
}

// ValidID reports whether id is 11 ASCII alphanumerics starting with a letter.
func ValidID(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 && !isLetter {
			return false
		}
		if !isLetter && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// GenerateID draws an id satisfying ValidID from r.
func GenerateID(r *rand.Rand) string {
	b := make([]byte, idLength)
	b[0] = letters[r.IntN(len(letters))]
	for i := 1; i < idLength; i++ {
		b[i] = alphanumeric[r.IntN(len(alphanumeric))]
	}
	return string(b)
}

func (p IDPolicy) withDefaults() IDPolicy {
	d := DefaultIDPolicy()
	if p.Valid == nil {
		p.Valid = d.Valid
	}
	if p.Generate == nil {
		p.Generate = d.Generate
	}
	return p
}

// Scope decides which ids must be unique together.
type Scope int

const (
	// ScopeCollection requires uniqueness within each collection key.
	ScopeCollection Scope = iota
	// ScopeGlobal requires uniqueness across every supplied collection.
	ScopeGlobal
)

// ParseScope maps "collection" and "global" to a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "collection":
		return ScopeCollection, nil
	case "global":
		return ScopeGlobal, nil
	default:
		return 0, fmt.Errorf("unknown id scope %q", s)
	}
}

// DedupOptions configures DeduplicateIDs.
type DedupOptions struct {
	Policy IDPolicy
	Scope  Scope
	Rand   *rand.Rand
	Schema domain.Schema
}

// Change reasons.
const (
	ReasonInvalid   = "invalid"
	ReasonDuplicate = "duplicate"
)

// IDChange records one identifier rewrite.
type IDChange struct {
	Collection string `json:"collection"`
	Position   int    `json:"position"`
	OldID      string `json:"oldId"`
	NewID      string `json:"newId"`
	Reason     string `json:"reason"`
}

// DedupResult is the outcome of DeduplicateIDs.
type DedupResult struct {
	Targets           []domain.Collection
	Others            []domain.Collection
	Changes           []IDChange
	ReferencesUpdated int
	// Mapping holds, per collection, the old->new ids propagated to references.
	Mapping map[string]map[string]string
	Report  domain.Report
}

var (
	// ErrNoRandom is returned when DedupOptions.Rand is nil.
	ErrNoRandom = errors.New("dedup: random source required")
	// ErrExhausted is returned when the policy rejects every generated id.
	ErrExhausted = errors.New("dedup: could not generate an acceptable id")
)

const maxGenerate = 10000

// DeduplicateIDs rewrites identifiers of the target collections so that each
// is valid and unique within the configured scope.
//
// Invalid ids are replaced by generated ones and every reference to them in
// targets and others is updated through the schema. A valid id repeated
// within the scope keeps its first holder; later holders get a deterministic
// hashed suffix and references keep pointing at the first holder. An invalid
// id held by several records is handled the same way: every holder is
// regenerated, references follow the first holder and the later holders are
// reported.
func DeduplicateIDs(targets, others []domain.Collection, opts DedupOptions) (DedupResult, error) {
	res := DedupResult{Report: domain.NewReport("dedupe")}
	if opts.Rand == nil {
		return res, ErrNoRandom
	}
	policy := opts.Policy.withDefaults()

	ns := func(collection string) string {
		if opts.Scope == ScopeGlobal {
			return ""
		}
		return collection
	}
	taken := make(map[string]map[string]bool)
	claimed := make(map[string]map[string]bool)
	mark := func(set map[string]map[string]bool, collection, id string) {
		k := ns(collection)
		if set[k] == nil {
			set[k] = make(map[string]bool)
		}
		set[k][id] = true
	}
	for _, c := range append(append([]domain.Collection(nil), targets...), others...) {
		for _, r := range c.Records {
			if id := r.ID(); id != "" {
				mark(taken, c.Key, id)
			}
		}
	}
	for _, c := range others {
		for _, r := range c.Records {
			if id := r.ID(); id != "" && policy.Valid(id) {
				mark(claimed, c.Key, id)
			}
		}
	}

	remap := make(map[string]map[string]string)
	ambiguous := make(map[string]map[string]bool)
	res.Targets = make([]domain.Collection, len(targets))
	for ti, c := range targets {
		out := c.Clone()
		for pos := range out.Records {
			rec := &out.Records[pos]
			oldID := rec.ID()
			if oldID == "" {
				continue
			}
			var (
				newID, reason string
				err           error
			)
			switch {
			case !policy.Valid(oldID):
				reason = ReasonInvalid
				newID, err = generateUnique(policy, opts.Rand, taken[ns(c.Key)])
			case claimed[ns(c.Key)][oldID]:
				reason = ReasonDuplicate
				newID, err = suffixUnique(policy, opts.Rand, taken[ns(c.Key)], oldID, pos)
			default:
				mark(claimed, c.Key, oldID)
				res.Report.Unchanged++
				continue
			}
			if err != nil {
				return res, fmt.Errorf("%s %s: %w", c.Key, oldID, err)
			}
			rec.SetID(newID)
			mark(taken, c.Key, newID)
			mark(claimed, c.Key, newID)
			res.Changes = append(res.Changes, IDChange{Collection: c.Key, Position: pos, OldID: oldID, NewID: newID, Reason: reason})
			res.Report.Changed++
			res.Report.Infof(domain.CodeRegenerated, c.Key, newID, "%s id %s replaced by %s", reason, oldID, newID)
			if reason != ReasonInvalid {
				continue
			}
			if remap[c.Key] == nil {
				remap[c.Key] = make(map[string]string)
				ambiguous[c.Key] = make(map[string]bool)
			}
			if _, dup := remap[c.Key][oldID]; dup {
				ambiguous[c.Key][oldID] = true
				continue
			}
			remap[c.Key][oldID] = newID
		}
		res.Targets[ti] = out
	}
	for collection, ids := range ambiguous {
		for id := range ids {
			res.Report.Warnf(domain.CodeAmbiguousIdentifier, collection, id,
				"invalid id %s is held by several records; references follow the first holder %s", id, remap[collection][id])
		}
	}

	res.Mapping = remap
	res.Others = make([]domain.Collection, len(others))
	for i, c := range others {
		res.Others[i] = c.Clone()
	}
	for _, set := range [][]domain.Collection{res.Targets, res.Others} {
		for ci := range set {
			n := rewriteReferences(&set[ci], opts.Schema, remap, &res.Report)
			res.ReferencesUpdated += n
		}
	}
	return res, nil
}

// rewriteReferences applies remap (target collection -> old -> new) to every
// foreign key declared on coll.
func rewriteReferences(coll *domain.Collection, schema domain.Schema, remap map[string]map[string]string, rep *domain.Report) int {
	total := 0
	for _, fk := range schema.From(coll.Key) {
		m := remap[fk.Target]
		if len(m) == 0 {
			continue
		}
		lookup := func(id string) (string, bool) {
			next, ok := m[id]
			return next, ok
		}
		for i := range coll.Records {
			n, err := fk.Rewrite(&coll.Records[i], lookup)
			if err != nil {
				rep.Errorf(domain.CodeMalformedList, coll.Key, coll.Records[i].ID(), "%s: %v", fk.Path(), err)
				rep.Failed++
				continue
			}
			total += n
		}
	}
	return total
}

func generateUnique(p IDPolicy, r *rand.Rand, taken map[string]bool) (string, error) {
	for i := 0; i < maxGenerate; i++ {
		id := p.Generate(r)
		if p.Valid(id) && !taken[id] {
			return id, nil
		}
	}
	return "", ErrExhausted
}

// suffixUnique derives a replacement from a hash of id and the record's
// position, trying further attempts on collision before falling back to a
// random id.
func suffixUnique(p IDPolicy, r *rand.Rand, taken map[string]bool, id string, pos int) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cand := suffixed(id, pos, attempt, p.MaxLength)
		if cand != "" && p.Valid(cand) && !taken[cand] {
			return cand, nil
		}
	}
	return generateUnique(p, r, taken)
}

func suffixed(id string, pos, attempt, maxLength int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d/%d", id, pos, attempt)))
	digits := new(big.Int).SetBytes(sum[:]).Text(62)
	for len(digits) < suffixLength {
		digits = "0" + digits
	}
	suffix := digits[:suffixLength]
	base := id
	if maxLength > 0 {
		if maxLength <= suffixLength {
			return ""
		}
		if keep := maxLength - suffixLength; len(base) > keep {
			base = base[:keep]
		}
	}
	return base + suffix
}
