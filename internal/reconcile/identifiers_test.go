package reconcile

import (
	"errors"
	"math/rand/v2"
	"testing"

	"metarecon/internal/index"
	"metarecon/pkg/domain"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		"abcDEF12345":  true,
		"A0000000000":  true,
		"1bcDEF12345":  false,
		"abcDEF1234":   false,
		"abcDEF123456": false,
		"abc-EF12345":  false,
		"":             false,
	}
	for id, want := range cases {
		if got := ValidID(id); got != want {
			t.Fatalf("ValidID(%q) = %v want %v", id, got, want)
		}
	}
	r := seeded()
	for i := 0; i < 200; i++ {
		if id := GenerateID(r); !ValidID(id) {
			t.Fatalf("generated invalid id %q", id)
		}
	}
}

func TestDeduplicateIDs_InvalidIDsArePropagated(t *testing.T) {
	programs := coll(domain.Programs,
		`{"id":"bad-id","name":"Breast"}`,
		`{"id":"prgLung0001","name":"Lung"}`,
	)
	stages := coll(domain.ProgramStages,
		`{"id":"stgBreast01","program":{"id":"bad-id"}}`,
		`{"id":"stgLung0001","program":{"id":"prgLung0001"}}`,
	)
	res, err := DeduplicateIDs([]domain.Collection{programs}, []domain.Collection{stages}, DedupOptions{Rand: seeded(), Schema: domain.DefaultSchema()})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if len(res.Changes) != 1 || res.Changes[0].OldID != "bad-id" || res.Changes[0].Reason != ReasonInvalid {
		t.Fatalf("unexpected changes %+v", res.Changes)
	}
	newID := res.Changes[0].NewID
	if !ValidID(newID) {
		t.Fatalf("replacement %q is invalid", newID)
	}
	if got, _ := res.Others[0].Records[0].Ref("program"); got != newID {
		t.Fatalf("reference not updated: %s", got)
	}
	if res.ReferencesUpdated != 1 {
		t.Fatalf("expected one reference update, got %d", res.ReferencesUpdated)
	}
	if res.Mapping[domain.Programs]["bad-id"] != newID {
		t.Fatalf("mapping missing change: %v", res.Mapping)
	}
	ix := index.Build(domain.DefaultSchema(), append(res.Targets, res.Others...)...)
	if d := ix.Dangling(); len(d) != 0 {
		t.Fatalf("dedupe left dangling references: %+v", d)
	}
	if got, _ := stages.Records[0].Ref("program"); got != "bad-id" {
		t.Fatalf("input collections were mutated")
	}
}

func TestDeduplicateIDs_DuplicatesGetDeterministicSuffix(t *testing.T) {
	programs := coll(domain.Programs,
		`{"id":"prgBreast01","name":"one"}`,
		`{"id":"prgBreast01","name":"two"}`,
		`{"id":"prgBreast01","name":"three"}`,
	)
	run := func() DedupResult {
		res, err := DeduplicateIDs([]domain.Collection{programs}, nil, DedupOptions{Rand: seeded()})
		if err != nil {
			t.Fatalf("dedupe: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if len(a.Changes) != 2 {
		t.Fatalf("expected two changes, got %+v", a.Changes)
	}
	ids := a.Targets[0].IDs()
	if ids[0] != "prgBreast01" {
		t.Fatalf("first holder must keep its id, got %s", ids[0])
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] || !ValidID(id) {
			t.Fatalf("ids not unique and valid: %v", ids)
		}
		seen[id] = true
	}
	if ids[1][:7] != "prgBrea" {
		t.Fatalf("suffixed id should keep the original prefix, got %s", ids[1])
	}
	for i := range a.Changes {
		if a.Changes[i] != b.Changes[i] {
			t.Fatalf("duplicate resolution is not deterministic: %+v vs %+v", a.Changes[i], b.Changes[i])
		}
	}
	if len(a.Mapping) != 0 {
		t.Fatalf("duplicate fixes must not be propagated: %v", a.Mapping)
	}
}

func TestDeduplicateIDs_MappingIsInjective(t *testing.T) {
	programs := coll(domain.Programs,
		`{"id":"x1"}`, `{"id":"x2"}`, `{"id":"x3"}`,
		`{"id":"prgBreast01"}`, `{"id":"prgBreast01"}`,
		`{"id":"9starts0dig"}`,
	)
	res, err := DeduplicateIDs([]domain.Collection{programs}, nil, DedupOptions{Rand: seeded()})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	newIDs := map[string]bool{}
	for _, c := range res.Changes {
		if newIDs[c.NewID] {
			t.Fatalf("two changes map to %s", c.NewID)
		}
		newIDs[c.NewID] = true
	}
	if len(res.Changes) != 5 {
		t.Fatalf("expected five changes, got %d", len(res.Changes))
	}
}

func TestDeduplicateIDs_RepeatedInvalidIDFollowsFirstHolder(t *testing.T) {
	programs := coll(domain.Programs, `{"id":"bad"}`, `{"id":"bad"}`)
	stages := coll(domain.ProgramStages, `{"id":"stgBreast01","program":{"id":"bad"}}`)
	schema := domain.DefaultSchema()
	res, err := DeduplicateIDs([]domain.Collection{programs}, []domain.Collection{stages}, DedupOptions{Rand: seeded(), Schema: schema})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if len(res.Changes) != 2 || res.ReferencesUpdated != 1 {
		t.Fatalf("expected two regenerations and one propagated reference: %+v", res)
	}
	first := res.Targets[0].Records[0].ID()
	if res.Mapping[domain.Programs]["bad"] != first {
		t.Fatalf("mapping %v does not point at first holder %s", res.Mapping, first)
	}
	if ref, _ := res.Others[0].Records[0].Ref("program"); ref != first {
		t.Fatalf("stage points at %s, want %s", ref, first)
	}
	ix := index.Build(schema, append(res.Targets, res.Others...)...)
	if d := ix.Dangling(); len(d) != 0 {
		t.Fatalf("dangling references left: %v", d)
	}
	found := false
	for _, i := range res.Report.Issues {
		if i.Code == domain.CodeAmbiguousIdentifier && i.Severity == domain.SeverityWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ambiguous identifier warning")
	}
}

func TestDeduplicateIDs_GlobalScope(t *testing.T) {
	programs := coll(domain.Programs, `{"id":"sharedID001"}`)
	stages := coll(domain.ProgramStages, `{"id":"sharedID001"}`)
	local, _ := DeduplicateIDs([]domain.Collection{programs, stages}, nil, DedupOptions{Rand: seeded()})
	if len(local.Changes) != 0 {
		t.Fatalf("collection scope must allow the same id in two collections")
	}
	global, _ := DeduplicateIDs([]domain.Collection{programs, stages}, nil, DedupOptions{Rand: seeded(), Scope: ScopeGlobal})
	if len(global.Changes) != 1 || global.Changes[0].Collection != domain.ProgramStages {
		t.Fatalf("global scope should rename the second holder: %+v", global.Changes)
	}
}

func TestDeduplicateIDs_Errors(t *testing.T) {
	if _, err := DeduplicateIDs(nil, nil, DedupOptions{}); !errors.Is(err, ErrNoRandom) {
		t.Fatalf("expected ErrNoRandom, got %v", err)
	}
	never := IDPolicy{Valid: func(string) bool { return false }, Generate: GenerateID}
	programs := coll(domain.Programs, `{"id":"abc"}`)
	if _, err := DeduplicateIDs([]domain.Collection{programs}, nil, DedupOptions{Rand: seeded(), Policy: never}); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope("global"); err != nil || s != ScopeGlobal {
		t.Fatalf("parse global: %v %v", s, err)
	}
	if s, err := ParseScope(""); err != nil || s != ScopeCollection {
		t.Fatalf("parse default: %v %v", s, err)
	}
	if _, err := ParseScope("galaxy"); err == nil {
		t.Fatalf("expected error")
	}
}
