package reconcile

import (
	"testing"

	"metarecon/internal/index"
	"metarecon/pkg/domain"
)

func orphanFixture() *index.Index {
	programs := coll(domain.Programs, `{"id":"prgBreast01"}`)
	stages := coll(domain.ProgramStages,
		`{"id":"stgOk000001","program":{"id":"prgBreast01"},"programStageDataElements":[{"dataElement":{"id":"deOk0000001"},"sortOrder":1}]}`,
		`{"id":"stgEntry001","program":{"id":"prgBreast01"},"programStageDataElements":[{"dataElement":{"id":"deGone00001"},"sortOrder":1},{"dataElement":{"id":"deOk0000001"},"sortOrder":2}]}`,
		`{"id":"stgParent01","program":{"id":"prgGone0001"}}`,
	)
	elements := coll(domain.DataElements, `{"id":"deOk0000001"}`)
	return index.Build(domain.DefaultSchema(), programs, stages, elements)
}

func TestDetectOrphans_PartitionsWithoutMutation(t *testing.T) {
	ix := orphanFixture()
	before, _ := ix.Collection(domain.ProgramStages)
	snapshot := encode(t, before)

	rep := DetectOrphans(ix, domain.ProgramStages)
	if len(rep.Valid) != 1 || len(rep.Orphaned) != 2 || len(rep.Dangling) != 2 {
		t.Fatalf("unexpected partition: valid=%d orphaned=%d dangling=%d", len(rep.Valid), len(rep.Orphaned), len(rep.Dangling))
	}
	if len(rep.Valid)+len(rep.Orphaned) != before.Len() {
		t.Fatalf("detection must account for every record")
	}
	after, _ := ix.Collection(domain.ProgramStages)
	if encode(t, after) != snapshot {
		t.Fatalf("detection mutated the collection")
	}
}

func TestDetectOrphans_RestrictedToKeys(t *testing.T) {
	ix := orphanFixture()
	programKey := domain.ForeignKey{Collection: domain.ProgramStages, Field: "program", Target: domain.Programs}
	rep := DetectOrphans(ix, domain.ProgramStages, programKey)
	if len(rep.Orphaned) != 1 || rep.Orphaned[0].ID() != "stgParent01" {
		t.Fatalf("expected only the stage with a missing program, got %+v", rep.Orphaned)
	}
}

func TestPruneOrphans(t *testing.T) {
	cases := []struct {
		name        string
		opts        PruneOptions
		wantIDs     []string
		wantEntries int
	}{
		{"nothing requested", PruneOptions{}, []string{"stgOk000001", "stgEntry001", "stgParent01"}, 0},
		{"entries only", PruneOptions{Entries: true}, []string{"stgOk000001", "stgEntry001", "stgParent01"}, 1},
		{"records only", PruneOptions{Records: true}, []string{"stgOk000001"}, 0},
		{"entries then records", PruneOptions{Entries: true, Records: true}, []string{"stgOk000001", "stgEntry001"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ix := orphanFixture()
			res, err := PruneOrphans(ix, domain.ProgramStages, tc.opts)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			ids := res.Collection.IDs()
			if len(ids) != len(tc.wantIDs) {
				t.Fatalf("got ids %v want %v", ids, tc.wantIDs)
			}
			for i := range ids {
				if ids[i] != tc.wantIDs[i] {
					t.Fatalf("got ids %v want %v", ids, tc.wantIDs)
				}
			}
			if res.EntriesRemoved != tc.wantEntries {
				t.Fatalf("entries removed %d want %d", res.EntriesRemoved, tc.wantEntries)
			}
			orig, _ := ix.Collection(domain.ProgramStages)
			if orig.Len() != 3 {
				t.Fatalf("prune mutated the indexed collection")
			}
		})
	}
}

func TestPruneOrphans_EntryPruneKeepsOtherEntries(t *testing.T) {
	ix := orphanFixture()
	res, err := PruneOrphans(ix, domain.ProgramStages, PruneOptions{Entries: true})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	rec, _ := res.Collection.Find("stgEntry001")
	entries, _ := rec.Entries(domain.AssociationField)
	if len(entries) != 1 {
		t.Fatalf("expected one remaining entry, got %d", len(entries))
	}
	if id, _ := entries[0].Ref("dataElement"); id != "deOk0000001" {
		t.Fatalf("wrong entry kept: %s", id)
	}
	if n, _ := entries[0].Number("sortOrder"); n != 2 {
		t.Fatalf("sortOrder must not be renumbered, got %v", n)
	}
	if string(res.Collection.Envelope) != `{"rev":"7"}` {
		t.Fatalf("envelope lost")
	}
}

func TestPruneOrphans_UnknownCollection(t *testing.T) {
	if _, err := PruneOrphans(orphanFixture(), "nope", PruneOptions{Records: true}); err == nil {
		t.Fatalf("expected error for unindexed collection")
	}
}
